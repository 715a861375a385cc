package models

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrNotFound         = status.Errorf(codes.NotFound, "not found")
	ErrUnauthenticated  = status.Errorf(codes.Unauthenticated, "unauthenticated")
	ErrNotConnected     = status.Errorf(codes.Unavailable, "realtime connection is not established")
	ErrNotHost          = status.Errorf(codes.PermissionDenied, "only the session host can do this")
	ErrNoSession        = status.Errorf(codes.NotFound, "session not found")
	ErrAlreadyInSession = status.Errorf(codes.FailedPrecondition, "already in a live session")
	ErrJoinAborted      = status.Errorf(codes.Aborted, "the session was left while joining")
	ErrMessageNotFound  = status.Errorf(codes.NotFound, "message not found")
	ErrNotRetryable     = status.Errorf(codes.FailedPrecondition, "message is not in a failed state")
	ErrNoRoom           = status.Errorf(codes.FailedPrecondition, "no conversation is open")
)

var (
	ErrNoLocalMedia   = status.Errorf(codes.FailedPrecondition, "local media is not available")
	ErrInvalidSection = status.Errorf(codes.InvalidArgument, "section must be chat or forum")
)
