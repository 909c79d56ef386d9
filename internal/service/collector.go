package service

import (
	"context"
	"errors"
	"strconv"

	"flightwatch/internal/biz"
	"flightwatch/internal/data"
	"flightwatch/internal/rpc"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// CollectorService exposes airport subscriptions and collected flights,
// plus the downstream-cleanup RPC the user-manager's deletion saga calls.
type CollectorService struct {
	subs      *biz.SubscriptionUsecase
	collector *biz.CollectorUsecase
	logger    *log.Helper
}

// NewCollectorService creates the data-collector's HTTP service.
func NewCollectorService(subs *biz.SubscriptionUsecase, collector *biz.CollectorUsecase, logger log.Logger) *CollectorService {
	return &CollectorService{
		subs:      subs,
		collector: collector,
		logger:    log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the data-collector surface.
func (s *CollectorService) RegisterRoutes(srv *http.Server) {
	r := srv.Route("/")
	r.POST("/subscriptions", s.handleSubscribe)
	r.GET("/subscriptions/{email}", s.handleListSubscriptions)
	r.DELETE("/subscriptions/{email}/{icao}", s.handleUnsubscribe)
	r.GET("/airports/{icao}/flights", s.handleRecentFlights)
	r.GET("/airports/{icao}/flights/latest", s.handleLatestFlight)
	r.GET("/airports/{icao}/flights/average", s.handleAverageDaily)
	r.POST("/airports/{icao}/collect", s.handleCollectNow)
	r.POST(rpc.PathDeleteDownstreamState, s.handleDeleteDownstreamState)
}

type subscribeBody struct {
	Email       string `json:"email"`
	AirportICAO string `json:"airport_icao"`
	HighValue   *int   `json:"high_value"`
	LowValue    *int   `json:"low_value"`
}

type subscriptionReply struct {
	Email       string `json:"email"`
	AirportICAO string `json:"airport_icao"`
	HighValue   *int   `json:"high_value,omitempty"`
	LowValue    *int   `json:"low_value,omitempty"`
}

type flightReply struct {
	ICAO24    string `json:"icao24"`
	Callsign  string `json:"callsign,omitempty"`
	FirstSeen int64  `json:"first_seen"`
	LastSeen  int64  `json:"last_seen"`
	Direction string `json:"direction"`
}

func (s *CollectorService) handleSubscribe(ctx http.Context) error {
	var in subscribeBody
	if err := ctx.Bind(&in); err != nil {
		return kratoserrors.BadRequest("MALFORMED_BODY", "request body is not valid JSON")
	}

	h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
		body := req.(*subscribeBody)
		sub := &data.Subscription{
			UserEmail:     body.Email,
			AirportICAO:   body.AirportICAO,
			HighThreshold: body.HighValue,
			LowThreshold:  body.LowValue,
		}
		if err := s.subs.Subscribe(c, sub); err != nil {
			return nil, toHTTPError(err)
		}
		return &subscriptionReply{
			Email:       sub.UserEmail,
			AirportICAO: sub.AirportICAO,
			HighValue:   sub.HighThreshold,
			LowValue:    sub.LowThreshold,
		}, nil
	})
	out, err := h(ctx, &in)
	if err != nil {
		return err
	}
	return ctx.Result(201, out)
}

func (s *CollectorService) handleListSubscriptions(ctx http.Context) error {
	email := ctx.Vars().Get("email")

	h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
		subs, err := s.subs.List(c, req.(string))
		if err != nil {
			return nil, toHTTPError(err)
		}
		replies := make([]*subscriptionReply, 0, len(subs))
		for _, sub := range subs {
			replies = append(replies, &subscriptionReply{
				Email:       sub.UserEmail,
				AirportICAO: sub.AirportICAO,
				HighValue:   sub.HighThreshold,
				LowValue:    sub.LowThreshold,
			})
		}
		return replies, nil
	})
	out, err := h(ctx, email)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

func (s *CollectorService) handleUnsubscribe(ctx http.Context) error {
	email := ctx.Vars().Get("email")
	icao := ctx.Vars().Get("icao")

	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		if err := s.subs.Unsubscribe(c, email, icao); err != nil {
			return nil, toHTTPError(err)
		}
		return map[string]string{"email": email, "airport_icao": icao}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

func (s *CollectorService) handleRecentFlights(ctx http.Context) error {
	icao := ctx.Vars().Get("icao")
	limit, _ := strconv.Atoi(ctx.Query().Get("limit"))

	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		flights, err := s.subs.RecentFlights(c, icao, limit)
		if err != nil {
			return nil, toHTTPError(err)
		}
		replies := make([]*flightReply, 0, len(flights))
		for _, f := range flights {
			replies = append(replies, &flightReply{
				ICAO24:    f.ICAO24,
				Callsign:  f.Callsign,
				FirstSeen: f.FirstSeen,
				LastSeen:  f.LastSeen,
				Direction: string(f.Direction),
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

func (s *CollectorService) handleLatestFlight(ctx http.Context) error {
	icao := ctx.Vars().Get("icao")

	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		f, err := s.subs.LatestFlight(c, icao)
		if err != nil {
			return nil, toHTTPError(err)
		}
		if f == nil {
			return nil, kratoserrors.NotFound("NO_FLIGHTS", "no flights collected for this airport yet")
		}
		return &flightReply{
			ICAO24:    f.ICAO24,
			Callsign:  f.Callsign,
			FirstSeen: f.FirstSeen,
			LastSeen:  f.LastSeen,
			Direction: string(f.Direction),
		}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

func (s *CollectorService) handleAverageDaily(ctx http.Context) error {
	icao := ctx.Vars().Get("icao")
	days, _ := strconv.Atoi(ctx.Query().Get("days"))
	if days == 0 {
		days = 7
	}

	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		avg, err := s.subs.AverageDaily(c, icao, days)
		if err != nil {
			return nil, toHTTPError(err)
		}
		return map[string]interface{}{
			"airport_icao":    icao,
			"days":            days,
			"average_per_day": avg,
		}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// handleCollectNow collects one airport on demand, outside the periodic
// cycle. 202 means the airport was busy: another worker is collecting it
// right now. A failed collection is a 503, not a 202.
func (s *CollectorService) handleCollectNow(ctx http.Context) error {
	icao := ctx.Vars().Get("icao")

	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		err := s.collector.CollectOne(c, icao)
		if err != nil && !errors.Is(err, biz.ErrAirportBusy) {
			return nil, kratoserrors.ServiceUnavailable("COLLECTION_FAILED", "airport collection failed, try again later")
		}
		return map[string]interface{}{
			"airport_icao": icao,
			"collected":    err == nil,
		}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	reply := out.(map[string]interface{})
	if !reply["collected"].(bool) {
		return ctx.Result(202, reply)
	}
	return ctx.Result(200, reply)
}

func (s *CollectorService) handleDeleteDownstreamState(ctx http.Context) error {
	var in rpc.DeleteDownstreamStateRequest
	if err := ctx.Bind(&in); err != nil {
		return kratoserrors.BadRequest("MALFORMED_BODY", "request body is not valid JSON")
	}

	h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
		removed, err := s.subs.DeleteDownstreamState(c, req.(*rpc.DeleteDownstreamStateRequest).Email)
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &rpc.DeleteDownstreamStateReply{Removed: removed}, nil
	})
	out, err := h(ctx, &in)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}
