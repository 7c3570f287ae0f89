// Copyright 2025 UMH Systems GmbH
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

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/omeid/pgerror"
)

// ErrorKind tells callers how to react to a failed remote call.
type ErrorKind int

const (
	// KindUnknown is an ambiguous failure. Callers treat it like KindConnectivity.
	KindUnknown ErrorKind = iota
	// KindConnectivity means the request probably never reached the backend,
	// or the backend could not serve it right now.
	KindConnectivity
	// KindValidation means the backend rejected the data itself. Retrying will not help.
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a remote failure with its kind decided at the boundary.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}

	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with an explicit kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap classifies err and wraps it. A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}

	return &Error{Kind: Classify(err), Op: op, Err: err}
}

// KindOf returns the kind carried by err, classifying it when it was not wrapped.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}

	return Classify(err)
}

func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}

// Classify maps transport and database errors onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindConnectivity
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return KindConnectivity
	}
	for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED,
		syscall.EPIPE, syscall.ENETUNREACH, syscall.EHOSTUNREACH, syscall.ETIMEDOUT} {
		if errors.Is(err, errno) {
			return KindConnectivity
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyPQ(pqErr)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return KindConnectivity
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return KindConnectivity
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnectivity
	}

	return KindUnknown
}

func classifyPQ(pqErr *pq.Error) ErrorKind {
	switch {
	case pgerror.ConnectionException(pqErr) != nil,
		pgerror.ConnectionFailure(pqErr) != nil,
		pgerror.SQLclientUnableToEstablishSQLconnection(pqErr) != nil,
		pgerror.AdminShutdown(pqErr) != nil,
		pgerror.CannotConnectNow(pqErr) != nil,
		pgerror.TooManyConnections(pqErr) != nil:
		return KindConnectivity
	case pgerror.UniqueViolation(pqErr) != nil,
		pgerror.NotNullViolation(pqErr) != nil,
		pgerror.ForeignKeyViolation(pqErr) != nil,
		pgerror.CheckViolation(pqErr) != nil,
		pgerror.InvalidTextRepresentation(pqErr) != nil:
		return KindValidation
	}

	return classifySQLState(string(pqErr.Code))
}

// classifySQLState decides by SQLSTATE class.
func classifySQLState(code string) ErrorKind {
	if len(code) < 2 {
		return KindUnknown
	}

	switch code[:2] {
	case "08", "53", "57", "58":
		// connection exception, insufficient resources, operator intervention, system error
		return KindConnectivity
	case "22", "23", "42":
		// data exception, integrity violation, syntax error or access rule violation
		return KindValidation
	default:
		return KindUnknown
	}
}
