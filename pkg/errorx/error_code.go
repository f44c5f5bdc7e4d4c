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

package errorx

import "errors"

type ErrorCode int

const (
	Undefined_Err ErrorCode = 1000
	GENERAL_ERR   ErrorCode = 1001
	NOT_FOUND     ErrorCode = 1002
	IOErr         ErrorCode = 1003

	// error code for the barrier control plane

	TransportErr ErrorCode = 2001
	StorageErr   ErrorCode = 2101
	InjectErr    ErrorCode = 2201
	RecoveryErr  ErrorCode = 2301

	WorkerErr    ErrorCode = 3000
	JobErr       ErrorCode = 4000
	ConfKeyError ErrorCode = 5000
)

var NotFoundErr = NewWithCode(NOT_FOUND, "not found")

func NewIOErr(msg string) error {
	return &Error{
		code: IOErr,
		msg:  msg,
	}
}

// NewTransportErr marks a worker RPC failure. Transport errors never fail a
// single barrier in place, they escalate to recovery.
func NewTransportErr(msg string) error {
	return &Error{
		code: TransportErr,
		msg:  msg,
	}
}

// NewStorageErr marks a storage engine failure during commit or sync.
func NewStorageErr(msg string) error {
	return &Error{
		code: StorageErr,
		msg:  msg,
	}
}

func NewInjectErr(msg string) error {
	return &Error{
		code: InjectErr,
		msg:  msg,
	}
}

func IsIOError(err error) bool {
	if withCode, ok := err.(ErrorWithCode); ok {
		return withCode.Code() == IOErr
	}
	return false
}

// IsRecoverable reports whether an error must trigger a full recovery round
// instead of failing the request in place.
func IsRecoverable(err error) bool {
	var withCode ErrorWithCode
	if errors.As(err, &withCode) {
		switch withCode.Code() {
		case TransportErr, StorageErr, InjectErr, IOErr:
			return true
		}
	}
	return false
}

func GetErrorCode(err error) (ErrorCode, bool) {
	if code, ok := err.(ErrorWithCode); ok {
		return code.Code(), true
	}
	return 0, false
}
