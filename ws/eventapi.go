package ws

import (
	"context"
	"fmt"

	"github.com/duochat/duochat/store"
)

const (
	MinContentBytes = 1
	MaxContentBytes = 64 * 1024

	ErrorCodeInvalidArguments = 3
	ErrorCodeInternal         = 13
)

// ChatApi validates client requests and delegates to the message store.
type ChatApi struct {
	msgs            store.IMessageStore
	maxContentBytes int
}

func NewApi(msgs store.IMessageStore, maxContentBytes int) *ChatApi {
	return &ChatApi{
		msgs:            msgs,
		maxContentBytes: maxContentBytes,
	}
}

func (a *ChatApi) SendMessage(ctx context.Context, draft *store.MessageDraft) (*store.Message, *Error) {
	var errs []string

	if draft.From == "" {
		errs = append(errs, "from: required")
	}
	if draft.To == "" {
		errs = append(errs, "to: required")
	}
	if len(draft.Content) < MinContentBytes {
		errs = append(errs, "content: required")
	} else if len(draft.Content) > a.maxContentBytes {
		errs = append(errs, fmt.Sprintf("content: exceeds limit: %d bytes", a.maxContentBytes))
	}

	if len(errs) > 0 {
		return nil, newInvalidArgumentError(errs...)
	}

	msg, err := a.msgs.Append(ctx, draft)
	if err != nil {
		return nil, newInternalError(err.Error())
	}
	return msg, nil
}

func (a *ChatApi) MarkDelivered(ctx context.Context, id string) *Error {
	if id == "" {
		return newInvalidArgumentError("id: required")
	}
	if err := a.msgs.MarkDelivered(ctx, id); err != nil {
		return newInternalError(err.Error())
	}
	return nil
}

func (a *ChatApi) MarkSeen(ctx context.Context, req *SeenReq) *Error {
	var errs []string
	if req.FromUserID == "" {
		errs = append(errs, "fromUserId: required")
	}
	if req.ToUserID == "" {
		errs = append(errs, "toUserId: required")
	}
	if len(errs) > 0 {
		return newInvalidArgumentError(errs...)
	}

	if err := a.msgs.MarkSeen(ctx, req.FromUserID, req.ToUserID); err != nil {
		return newInternalError(err.Error())
	}
	return nil
}

func newInvalidArgumentError(errs ...string) *Error {
	return &Error{
		Code:   ErrorCodeInvalidArguments,
		Params: errs,
	}
}

func newInternalError(err string) *Error {
	return &Error{
		Code:   ErrorCodeInternal,
		Params: []string{err},
	}
}

// interceptError hides storage internals from the wire.
func interceptError(err *Error) {
	if err.Code == ErrorCodeInternal {
		err.Params = []string{"temp storage error"}
	}
}
