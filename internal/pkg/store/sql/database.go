// Copyright 2025 EMQ Technologies Co., Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sql

import (
	"database/sql"
	"regexp"
)

type Database interface {
	Apply(f func(db *sql.DB) error) error
}

var validTableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9/_]*$`)

// isValidTableName rejects table names that cannot be embedded into a quoted
// identifier safely.
func isValidTableName(tableName string) bool {
	if tableName == "" {
		return false
	}
	return validTableNamePattern.MatchString(tableName)
}
