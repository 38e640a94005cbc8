package hubs

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Sprinter05/gostick/internal/log"
	"github.com/Sprinter05/gostick/internal/spec"
	"github.com/Sprinter05/gostick/server/db"

	"github.com/pkg/errors"
)

/* TYPES */

// Operation ready to be processed, regardless
// of the transport it arrived through.
type Request struct {
	Op    spec.Action // Operation to perform
	Token string      // Auth token, empty if none was given
	Body  []byte      // JSON body of the operation
	Addr  string      // Remote address, only used for logging
}

// Outcome of an operation. Body is nil when it failed.
type Reply struct {
	Status int
	Body   any
	Err    error
}

// Specifies the functions to run depending on the operation
type action func(context.Context, *Hub, *Session, []byte) (any, error)

/* LOOKUP */

// Function mapping table
var cmdLookup map[spec.Action]action = map[spec.Action]action{
	spec.UPLOAD_PKB:          handle((*Hub).ProcessPreKeyBundle),
	spec.UPLOAD_PRE_KEYS:     handle((*Hub).ProcessPreKeys),
	spec.FETCH_PKB:           handle((*Hub).GetPreKeyBundle),
	spec.FETCH_PKBS:          handle((*Hub).GetPreKeyBundles),
	spec.FETCH_SK:            handle((*Hub).GetSenderKey),
	spec.FETCH_STANDARD_SKS:  handle((*Hub).GetStandardSenderKeys),
	spec.FETCH_UPLOADED_SKS:  handle((*Hub).GetStickID),
	spec.GET_ACTIVE_STICK_ID: handle((*Hub).GetActiveStickID),
	spec.UPLOAD_SK:           handle((*Hub).ProcessSenderKey),
	spec.UPLOAD_SKS:          handle((*Hub).ProcessSenderKeys),
	spec.UPLOAD_STANDARD_SKS: handle((*Hub).ProcessStandardSenderKeys),
	spec.UPDATE_ACTIVE_SPK:   handle((*Hub).UpdateActiveSPK),
	spec.UPDATE_ACTIVE_IK:    handle((*Hub).UpdateActiveIK),
	spec.LOGIN:               handle((*Hub).Login),
	spec.CHANGE_PASSWORD:     handle((*Hub).ChangePassword),
	spec.FETCH_PENDING_KEYS:  handle((*Hub).FetchPendingKeys),
	spec.ACK_PENDING_KEYS:    handle((*Hub).AckPendingKeys),
	spec.UPDATE_CHAIN_STEP:   handle((*Hub).UpdateChainStep),
	spec.FETCH_OTID:          handle((*Hub).FetchOneTimeID),
}

// Decodes the body into the request type of the
// operation before running it. Empty bodies leave
// the request with its zero value.
func handle[T any, R any](f func(*Hub, context.Context, *Session, T) (R, error)) action {
	return func(ctx context.Context, h *Hub, s *Session, body []byte) (any, error) {
		var req T
		if len(body) != 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, spec.ErrorArguments
			}
		}

		return f(h, ctx, s, req)
	}
}

/* WRAPPER FUNCTIONS */

// Checks which action to perform, resolves the session
// if the operation needs one and runs it.
func Process(ctx context.Context, h *Hub, r Request) Reply {
	fun, ok := cmdLookup[r.Op]
	if !ok {
		// Invalid action is trying to be ran
		log.Invalid(spec.CodeToString(r.Op), r.Addr)
		return failed(spec.ErrorInvalid)
	}

	var session *Session
	if spec.NeedsAuth(r.Op) {
		s, err := h.Session(ctx, r.Token)
		if err != nil {
			return failed(err)
		}
		session = s
	}

	body, err := fun(ctx, h, session, r.Body)
	if err != nil {
		return failed(err)
	}

	return Reply{
		Status: http.StatusOK,
		Body:   body,
	}
}

/* AUXILIARY FUNCTIONS */

// Wraps an error into a reply
func failed(err error) Reply {
	return Reply{
		Status: spec.ErrorStatus(err),
		Err:    err,
	}
}

// Turns an error from the db package into its
// specification error, logging unexpected ones.
func specError(what string, user string, err error) error {
	var serr spec.SpecError
	switch {
	case errors.As(err, &serr):
		return serr
	case errors.Is(err, db.ErrorNotFound):
		return spec.ErrorNotFound
	case errors.Is(err, db.ErrorDuplicatedKey):
		return spec.ErrorDuplicateKey
	case errors.Is(err, db.ErrorEmpty):
		return spec.ErrorEmpty
	case errors.Is(err, db.ErrorConflict):
		return spec.ErrorConflict
	case errors.Is(err, db.ErrorRegistered):
		return spec.ErrorRegistered
	case errors.Is(err, db.ErrorForeignKey):
		return spec.ErrorNotFound
	}

	log.User(user, what, err)
	return spec.ErrorServer
}
