package main

import (
	"context"
	"time"

	"flightwatch/internal/biz"
	"flightwatch/internal/conf"
	"flightwatch/internal/server"
	"flightwatch/pkg/crypto"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// newSweepCron schedules the idempotency cache sweep. Expired records are
// dropped so a late retry of an old request is treated as brand new.
func newSweepCron(reg *biz.RegistrationUsecase, c *conf.Idempotency, logger log.Logger) (*server.CronServer, error) {
	helper := log.NewHelper(logger)

	cr := cron.New()
	_, err := cr.AddFunc("@every "+c.SweepInterval.AsDuration().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		removed, err := reg.PurgeExpired(ctx)
		if err != nil {
			helper.Errorw("msg", "idempotency sweep failed", "error", err)
			return
		}
		if removed > 0 {
			helper.Infow("msg", "idempotency records purged", "removed", removed)
		}
	})
	if err != nil {
		return nil, err
	}

	return server.NewCronServer(cr, nil, logger), nil
}

// newCryptoService creates the AES crypto service from config.
func newCryptoService(auth *conf.Auth) (*crypto.AESCrypto, error) {
	return crypto.NewAESCrypto([]byte(auth.Encryption.Key))
}
