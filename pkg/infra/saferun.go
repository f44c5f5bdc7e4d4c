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

// Package infra holds the goroutine safety helpers. Background goroutines of
// the barrier control plane are run through SafeRun so that a panic surfaces
// as an error on the owning event loop instead of killing the process.
package infra

import (
	"context"
	"errors"
	"fmt"
)

// SafeRun runs fn and returns its error. A panic inside fn is recovered and
// returned as an error.
func SafeRun(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch x := r.(type) {
			case string:
				err = errors.New(x)
			case error:
				err = x
			default:
				err = fmt.Errorf("%#v", x)
			}
		}
	}()
	err = fn()
	return err
}

// DrainError forwards err to errCh without wedging the sender when the
// receiver is gone. A nil ctx sends unconditionally.
func DrainError(ctx context.Context, err error, errCh chan<- error) {
	if ctx != nil {
		select {
		case errCh <- err:
		case <-ctx.Done():
		}
	} else {
		errCh <- err
	}
}
