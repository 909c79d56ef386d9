package service

import (
	"context"
	"encoding/json"
	"errors"

	"flightwatch/internal/biz"
	"flightwatch/internal/data"
	"flightwatch/internal/model"
	"flightwatch/internal/rpc"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// UserService exposes registration, profile lookup and account deletion,
// plus the principal RPCs the data-collector calls.
type UserService struct {
	reg    *biz.RegistrationUsecase
	del    *biz.DeletionUsecase
	logger *log.Helper
}

// NewUserService creates the user-manager's HTTP service.
func NewUserService(reg *biz.RegistrationUsecase, del *biz.DeletionUsecase, logger log.Logger) *UserService {
	return &UserService{
		reg:    reg,
		del:    del,
		logger: log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the user-manager surface.
func (s *UserService) RegisterRoutes(srv *http.Server) {
	r := srv.Route("/")
	r.POST("/users", s.handleRegister)
	r.GET("/users", s.handleListUsers)
	r.GET("/users/{email}", s.handleGetUser)
	r.DELETE("/users/{email}", s.handleDeleteUser)
	r.POST(rpc.PathVerifyPrincipal, s.handleVerifyPrincipal)
	r.POST(rpc.PathGetPrincipal, s.handleGetPrincipal)
}

type registerBody struct {
	Email         string `json:"email"`
	Nome          string `json:"nome"`
	Cognome       string `json:"cognome"`
	CodiceFiscale string `json:"codice_fiscale"`
	IBAN          string `json:"iban"`
	RequestID     string `json:"request_id"`
}

type userReply struct {
	Email   string `json:"email"`
	Nome    string `json:"nome"`
	Cognome string `json:"cognome"`
}

type deleteReply struct {
	Email                string `json:"email"`
	Outcome              string `json:"outcome"`
	SubscriptionsRemoved int64  `json:"subscriptions_removed"`
}

func (s *UserService) handleRegister(ctx http.Context) error {
	var in registerBody
	if err := ctx.Bind(&in); err != nil {
		return kratoserrors.BadRequest("MALFORMED_BODY", "request body is not valid JSON")
	}
	// Clients that cannot persist a body field may send the identifier
	// as a header instead.
	if in.RequestID == "" {
		in.RequestID = ctx.Header().Get("X-Request-ID")
	}
	callerID := callerIdentity(ctx)

	h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
		body := req.(*registerBody)
		res, err := s.reg.Register(c, &biz.RegisterRequest{
			Email:         body.Email,
			Nome:          body.Nome,
			Cognome:       body.Cognome,
			CodiceFiscale: body.CodiceFiscale,
			IBAN:          body.IBAN,
			RequestID:     body.RequestID,
			CallerID:      callerID,
		})
		if err != nil {
			return nil, toHTTPError(err)
		}
		return res, nil
	})
	out, err := h(ctx, &in)
	if err != nil {
		return err
	}

	res := out.(*biz.RegisterResult)
	status := res.StatusCode
	if res.Replayed {
		// A replay acknowledges the earlier creation, it does not create.
		status = 200
		ctx.Response().Header().Set("Idempotent-Replay", "true")
	}
	return ctx.Result(status, json.RawMessage(res.Response))
}

func (s *UserService) handleListUsers(ctx http.Context) error {
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		users, err := s.reg.ListPrincipals(c)
		if err != nil {
			return nil, toHTTPError(err)
		}
		replies := make([]*userReply, 0, len(users))
		for _, u := range users {
			replies = append(replies, &userReply{
				Email:   u.Email,
				Nome:    u.Nome,
				Cognome: u.Cognome,
			})
		}
		return replies, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

func (s *UserService) handleGetUser(ctx http.Context) error {
	email := ctx.Vars().Get("email")

	h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
		user, err := s.reg.GetPrincipal(c, req.(string))
		if err != nil {
			return nil, toHTTPError(err)
		}
		return user, nil
	})
	out, err := h(ctx, email)
	if err != nil {
		return err
	}

	user := out.(*data.User)
	return ctx.Result(200, &userReply{
		Email:   user.Email,
		Nome:    user.Nome,
		Cognome: user.Cognome,
	})
}

func (s *UserService) handleDeleteUser(ctx http.Context) error {
	email := ctx.Vars().Get("email")

	h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
		outcome, removed, err := s.del.DeleteAccount(c, req.(string))
		if err != nil {
			if errors.Is(err, biz.ErrUserNotFound) {
				return nil, toHTTPError(err)
			}
			switch outcome {
			case model.SagaPivotFailed:
				// Nothing was deleted anywhere; the client can retry.
				return nil, kratoserrors.New(502, "DOWNSTREAM_CLEANUP_FAILED",
					"subscriptions could not be removed, account untouched")
			case model.SagaLocalPending:
				return nil, kratoserrors.New(500, "DELETION_INCOMPLETE",
					"subscriptions removed but the account is still present, retry the deletion")
			}
			return nil, toHTTPError(err)
		}
		return &deleteReply{
			Email:                req.(string),
			Outcome:              outcome.String(),
			SubscriptionsRemoved: removed,
		}, nil
	})
	out, err := h(ctx, email)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

func (s *UserService) handleVerifyPrincipal(ctx http.Context) error {
	var in rpc.VerifyPrincipalRequest
	if err := ctx.Bind(&in); err != nil {
		return kratoserrors.BadRequest("MALFORMED_BODY", "request body is not valid JSON")
	}

	h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
		registered, err := s.reg.VerifyPrincipal(c, req.(*rpc.VerifyPrincipalRequest).Email)
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &rpc.VerifyPrincipalReply{Registered: registered}, nil
	})
	out, err := h(ctx, &in)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

func (s *UserService) handleGetPrincipal(ctx http.Context) error {
	var in rpc.GetPrincipalRequest
	if err := ctx.Bind(&in); err != nil {
		return kratoserrors.BadRequest("MALFORMED_BODY", "request body is not valid JSON")
	}

	h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
		user, err := s.reg.GetPrincipal(c, req.(*rpc.GetPrincipalRequest).Email)
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &rpc.GetPrincipalReply{
			Email:   user.Email,
			Nome:    user.Nome,
			Cognome: user.Cognome,
		}, nil
	})
	out, err := h(ctx, &in)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}
