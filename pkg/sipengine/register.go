package sipengine

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/callcontrol/pkg/ccapi"
)

// registration состояние фоновой регистрации одного устройства.
type registration struct {
	creds   ccapi.Credentials
	callID  string
	fromTag string
	cseq    uint32
	cancel  context.CancelFunc
	done    chan struct{}
}

// runRegistration регистрирует устройство и обновляет регистрацию до отмены ctx.
// После ошибки повторяет попытку через RetryInterval.
func (e *Engine) runRegistration(ctx context.Context, st *stack, r *registration) {
	defer close(r.done)

	e.connEvent("register")
	for {
		granted, err := e.sendRegister(ctx, st, r, e.cfg.Expires)
		if ctx.Err() != nil {
			return
		}
		wait := e.cfg.RetryInterval
		if err != nil {
			e.log.Warn("Регистрация не удалась",
				slog.String("user", r.creds.User),
				slog.String("registrar", st.registrar),
				slog.Any("error", err))
			e.connEvent("fail")
		} else {
			e.connEvent("registered")
			wait = time.Duration(float64(granted) * e.cfg.RefreshRatio)
			e.log.Debug("Engine.runRegistration",
				slog.Duration("expires", granted),
				slog.Duration("refresh", wait))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err != nil {
			e.connEvent("register")
		}
	}
}

// sendRegister отправляет REGISTER и один раз отвечает на challenge.
// expires 0 снимает регистрацию. Возвращает срок, выданный регистратором.
func (e *Engine) sendRegister(ctx context.Context, st *stack, r *registration, expires time.Duration) (time.Duration, error) {
	var credHdr, credValue string
	for attempt := 0; attempt < 2; attempt++ {
		req := e.buildRegister(st, r, expires, credHdr, credValue)

		tctx, cancel := context.WithTimeout(ctx, e.cfg.RegisterTimeout)
		res, err := st.client.Do(tctx, req)
		cancel()
		if err != nil {
			return 0, errors.Wrap(err, "REGISTER")
		}

		switch {
		case res.StatusCode >= 200 && res.StatusCode < 300:
			if attempt > 0 {
				e.notifyAuth(ccapi.AuthStatusOK)
			}
			if secs, ok := expiresOf(res); ok && secs > 0 {
				return time.Duration(secs) * time.Second, nil
			}
			return expires, nil
		case (res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired) && attempt == 0:
			credHdr, credValue, err = authorize(req, res, r.creds.User, r.creds.Password)
			if err != nil {
				e.notifyAuth(ccapi.AuthStatusFailed)
				return 0, err
			}
			e.notifyAuth(ccapi.AuthStatusChallenged)
		default:
			if res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired {
				e.notifyAuth(ccapi.AuthStatusFailed)
			}
			return 0, errors.Errorf("REGISTER отклонен: %d %s", res.StatusCode, res.Reason)
		}
	}
	return 0, errors.New("REGISTER: превышено число попыток аутентификации")
}

func (e *Engine) buildRegister(st *stack, r *registration, expires time.Duration, credHdr, credValue string) *sip.Request {
	r.cseq++
	aor := st.uri(r.creds.User, r.creds.Domain, 0)
	req := sip.NewRequest(sip.REGISTER, st.uri("", r.creds.Domain, 0))

	fromParams := sip.NewParams()
	fromParams.Add("tag", r.fromTag)
	req.AppendHeader(&sip.FromHeader{Address: aor, Params: fromParams})
	req.AppendHeader(&sip.ToHeader{Address: aor, Params: sip.NewParams()})
	callID := sip.CallIDHeader(r.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: r.cseq, MethodName: sip.REGISTER})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(&sip.ContactHeader{Address: st.contact})
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(int(expires/time.Second))))
	if credValue != "" {
		req.AppendHeader(sip.NewHeader(credHdr, credValue))
	}
	if st.registrar != "" {
		req.SetDestination(st.registrar)
	}
	return req
}
