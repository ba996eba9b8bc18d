package sipengine

import (
	"log/slog"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/callcontrol/pkg/ccapi"
)

// registerHandlers регистрирует обработчики входящих запросов
func (e *Engine) registerHandlers(srv *sipgo.Server) {
	srv.OnInvite(e.handleInvite)
	srv.OnAck(e.handleAck)
	srv.OnBye(e.handleBye)
	srv.OnCancel(e.handleCancel)
	srv.OnOptions(e.handleOptions)
	srv.OnRequest(sip.INFO, e.handleInfo)
}

func (e *Engine) respond(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		e.log.Error("Не удалось отправить ответ",
			slog.Any("error", err),
			slog.String("method", req.Method.String()),
			slog.Int("code", int(code)))
	}
}

// lookup ищет вызов запроса по Call-ID. Без вызова отвечает 481.
func (e *Engine) lookup(req *sip.Request, tx sip.ServerTransaction) *Call {
	dev := e.activeDevice()
	id := req.CallID()
	if dev == nil || id == nil {
		e.respond(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
		return nil
	}
	c := dev.byCallID(string(*id))
	if c == nil {
		e.respond(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
	}
	return c
}

func (e *Engine) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	e.log.Debug("Engine.handleInvite", slog.String("from", req.From().Address.String()))

	st, dev := e.currentStack(), e.activeDevice()
	if st == nil || dev == nil {
		e.respond(req, tx, sip.StatusTemporarilyUnavailable, "Temporarily Unavailable")
		return
	}
	if req.CallID() == nil {
		e.respond(req, tx, sip.StatusBadRequest, "Missing Call-ID")
		return
	}
	if to := req.To(); to != nil && tagOf(to.Params) != "" {
		if c := e.lookup(req, tx); c != nil {
			c.onReinvite(req, tx)
		}
		return
	}
	if dev.byCallID(string(*req.CallID())) != nil {
		e.respond(req, tx, sip.StatusLoopDetected, "Loop Detected")
		return
	}

	c := dev.add(true)
	c.acceptInvite(st, req, tx)
}

func (e *Engine) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	if id := req.CallID(); id != nil {
		e.log.Debug("Engine.handleAck", slog.String("callID", string(*id)))
	}
}

func (e *Engine) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	c := e.lookup(req, tx)
	if c == nil {
		return
	}
	e.respond(req, tx, sip.StatusOK, "OK")
	c.fire(evHangup)
}

// handleCancel отменяет входящий вызов, который еще не принят.
func (e *Engine) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	c := e.lookup(req, tx)
	if c == nil {
		return
	}
	e.respond(req, tx, sip.StatusOK, "OK")

	c.mu.Lock()
	var terminated *sip.Response
	inviteTx := c.serverTx
	if c.inbound && c.stateLocked() == ccapi.StateRingIn {
		terminated = c.responseLocked(c.invite, sip.StatusRequestTerminated, "Request Terminated", nil)
	}
	c.mu.Unlock()

	if terminated != nil && inviteTx != nil {
		if err := inviteTx.Respond(terminated); err != nil {
			e.log.Debug("Engine.handleCancel 487", slog.Any("error", err))
		}
	}
	c.fire(evHangup)
}

func (e *Engine) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", allowMethods))
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp, application/dtmf-relay"))
	if err := tx.Respond(res); err != nil {
		e.log.Error("Не удалось ответить на OPTIONS", slog.Any("error", err))
	}
}

// handleInfo принимает DTMF от удаленной стороны.
func (e *Engine) handleInfo(req *sip.Request, tx sip.ServerTransaction) {
	if c := e.lookup(req, tx); c != nil {
		e.log.Info("Получен INFO",
			slog.Uint64("call", uint64(c.handle)),
			slog.String("body", string(req.Body())))
		e.respond(req, tx, sip.StatusOK, "OK")
	}
}
