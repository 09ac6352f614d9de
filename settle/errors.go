// Copyright (c) 2020 - for information on the respective copyright owner
// see the NOTICE file and/or the repository at
// https://github.com/hyperledger-labs/perun-node
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

package settle

import (
	"fmt"
	"math/big"
)

// ErrorCategory broadly classifies an APIError.
type ErrorCategory int

// Categories of API errors.
const (
	ClientError ErrorCategory = iota
	InternalError
)

// String implements Stringer.
func (c ErrorCategory) String() string {
	switch c {
	case ClientError:
		return "ClientError"
	case InternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// ErrorCode identifies the kind of APIError.
type ErrorCode int

// Error codes returned across this engine's API boundary.
const (
	ErrUnknownInternal ErrorCode = iota
	ErrResourceNotFound
	ErrResourceExists
	ErrInvalidArgument
	ErrAmountTooLarge
	ErrInsufficientLiquidity
	ErrAuthorizeRejected
)

// APIError represents an error surfaced across this engine's own API
// boundary, distinct from the internal, stack-traced errors produced with
// github.com/pkg/errors while reaching that boundary.
type APIError interface {
	error
	Category() ErrorCategory
	Code() ErrorCode
	Message() string
	AddInfo() interface{}
}

type apiError struct {
	category ErrorCategory
	code     ErrorCode
	message  string
	addInfo  interface{}
}

func (e apiError) Category() ErrorCategory { return e.category }
func (e apiError) Code() ErrorCode         { return e.code }
func (e apiError) Message() string         { return e.message }
func (e apiError) AddInfo() interface{}    { return e.addInfo }

// Error implements the error interface for APIError.
func (e apiError) Error() string {
	return fmt.Sprintf("Category: %s, Code: %d, Message: %s, AddInfo: %+v",
		e.Category(), e.Code(), e.Message(), e.AddInfo())
}

// InfoResourceNotFound is the AddInfo payload for ErrResourceNotFound.
type InfoResourceNotFound struct {
	Type string
	ID   string
}

// InfoAmountTooLarge is the AddInfo payload for ErrAmountTooLarge.
type InfoAmountTooLarge struct {
	Amount, MaxAmount *big.Int
}

// InfoInsufficientLiquidity is the AddInfo payload for ErrInsufficientLiquidity.
type InfoInsufficientLiquidity struct {
	Available *big.Int
}

// NewErrResourceNotFound returns an ErrResourceNotFound API error.
func NewErrResourceNotFound(resourceType, resourceID, message string) APIError {
	return apiError{
		category: ClientError,
		code:     ErrResourceNotFound,
		message:  message,
		addInfo:  InfoResourceNotFound{Type: resourceType, ID: resourceID},
	}
}

// NewErrResourceExists returns an ErrResourceExists API error.
func NewErrResourceExists(resourceType, resourceID, message string) APIError {
	return apiError{
		category: ClientError,
		code:     ErrResourceExists,
		message:  message,
		addInfo:  InfoResourceNotFound{Type: resourceType, ID: resourceID},
	}
}

// NewErrInvalidArgument returns an ErrInvalidArgument API error.
func NewErrInvalidArgument(message string) APIError {
	return apiError{category: ClientError, code: ErrInvalidArgument, message: message}
}

// NewErrAmountTooLarge returns an ErrAmountTooLarge API error describing a
// PREPARE packet whose amount exceeds MaxPacketAmount. The forwarding hooks
// report that case as an ILP REJECT with code F08 and do not call this.
func NewErrAmountTooLarge(amount, maxAmount *big.Int) APIError {
	return apiError{
		category: ClientError,
		code:     ErrAmountTooLarge,
		message:  "packet amount exceeds maxPacketAmount",
		addInfo:  InfoAmountTooLarge{Amount: amount, MaxAmount: maxAmount},
	}
}

// NewErrInsufficientLiquidity returns an ErrInsufficientLiquidity API error
// describing a PREPARE packet that would push receivableBalance above
// maxBalance. The forwarding hooks report that case as an ILP REJECT with
// code T04 and do not call this.
func NewErrInsufficientLiquidity(available *big.Int) APIError {
	return apiError{
		category: ClientError,
		code:     ErrInsufficientLiquidity,
		message:  "packet would exceed maxBalance",
		addInfo:  InfoInsufficientLiquidity{Available: available},
	}
}

// NewErrAuthorizeRejected returns an ErrAuthorizeRejected API error for an
// Authorize callback that rejects a transaction. The reducers that call
// Authorize do not use it: on rejection they log at debug level and return
// without submitting the transaction.
func NewErrAuthorizeRejected(message string) APIError {
	return apiError{category: ClientError, code: ErrAuthorizeRejected, message: message}
}

// NewErrUnknownInternal wraps an internal error as an API error.
func NewErrUnknownInternal(err error) APIError {
	return apiError{category: InternalError, code: ErrUnknownInternal, message: err.Error()}
}

// APIErrAsMap returns a map containing entries for the method and each
// field in the API error (except message), suitable for structured logging.
func APIErrAsMap(method string, err APIError) map[string]interface{} {
	return map[string]interface{}{
		"method":   method,
		"category": err.Category().String(),
		"code":     err.Code(),
		"add info": fmt.Sprintf("%+v", err.AddInfo()),
	}
}
