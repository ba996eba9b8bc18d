package sipengine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"

	"github.com/arzzra/callcontrol/pkg/ccapi"
	"github.com/arzzra/callcontrol/pkg/dtmf"
	"github.com/arzzra/callcontrol/pkg/rtpdtmf"
)

const allowMethods = "INVITE, ACK, CANCEL, BYE, OPTIONS, INFO"

// события автомата вызова
const (
	evDial    = "dial"
	evProceed = "proceed"
	evRingOut = "ringout"
	evRingIn  = "ringin"
	evConnect = "connect"
	evHold    = "hold"
	evRemHold = "remhold"
	evResume  = "resume"
	evBusy    = "busy"
	evReorder = "reorder"
	evHangup  = "hangup"
)

func names(states ...ccapi.CallState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.String()
	}
	return out
}

func newCallFSM() *fsm.FSM {
	early := []ccapi.CallState{ccapi.StateDialing, ccapi.StateProceed, ccapi.StateRingOut}
	return fsm.NewFSM(
		ccapi.StateOffHook.String(),
		fsm.Events{
			{Name: evDial, Src: names(ccapi.StateOffHook), Dst: ccapi.StateDialing.String()},
			{Name: evProceed, Src: names(ccapi.StateDialing), Dst: ccapi.StateProceed.String()},
			{Name: evRingOut, Src: names(ccapi.StateDialing, ccapi.StateProceed), Dst: ccapi.StateRingOut.String()},
			{Name: evRingIn, Src: names(ccapi.StateOffHook), Dst: ccapi.StateRingIn.String()},
			{Name: evConnect, Src: names(append(early, ccapi.StateRingIn, ccapi.StateResume, ccapi.StateRemHold)...), Dst: ccapi.StateConnected.String()},
			{Name: evHold, Src: names(ccapi.StateConnected, ccapi.StateResume, ccapi.StateRemHold), Dst: ccapi.StateHold.String()},
			{Name: evRemHold, Src: names(ccapi.StateConnected, ccapi.StateResume), Dst: ccapi.StateRemHold.String()},
			{Name: evResume, Src: names(ccapi.StateHold), Dst: ccapi.StateResume.String()},
			{Name: evBusy, Src: names(early...), Dst: ccapi.StateBusy.String()},
			{Name: evReorder, Src: names(early...), Dst: ccapi.StateReorder.String()},
			{Name: evHangup, Src: names(
				ccapi.StateOffHook, ccapi.StateDialing, ccapi.StateProceed, ccapi.StateRingOut,
				ccapi.StateRingIn, ccapi.StateConnected, ccapi.StateHold, ccapi.StateRemHold,
				ccapi.StateResume, ccapi.StateBusy, ccapi.StateReorder,
			), Dst: ccapi.StateOnHook.String()},
		},
		fsm.Callbacks{},
	)
}

// Call SIP вызов устройства.
type Call struct {
	device  *Device
	engine  *Engine
	handle  ccapi.CallHandle
	inbound bool

	// notifyMu упорядочивает переходы и уведомления наблюдателя
	notifyMu sync.Mutex

	mu          sync.Mutex
	fsm         *fsm.FSM
	stack       *stack
	dlg         *dialog
	invite      *sip.Request
	serverTx    sip.ServerTransaction
	ringing     chan struct{}
	provisional bool
	stopInvite  context.CancelFunc

	callingName   string
	callingNumber string
	calledNumber  string
	video         ccapi.Direction

	media     mediaParams
	remoteSDP []byte
	remote    remoteMedia
	rtp       net.PacketConn
	dtmf      *rtpdtmf.Sender
}

var _ ccapi.Call = (*Call)(nil)

func newCall(d *Device, h ccapi.CallHandle, inbound bool) *Call {
	return &Call{
		device:  d,
		engine:  d.engine,
		handle:  h,
		inbound: inbound,
		fsm:     newCallFSM(),
		ringing: make(chan struct{}),
	}
}

func (c *Call) Handle() ccapi.CallHandle { return c.handle }

func (c *Call) Info() *ccapi.CallInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoLocked()
}

func (c *Call) infoLocked() *ccapi.CallInfo {
	st := c.stateLocked()
	return &ccapi.CallInfo{
		Handle:             c.handle,
		State:              st,
		Capabilities:       ccapi.CapabilitiesFor(st),
		CallingPartyName:   c.callingName,
		CallingPartyNumber: c.callingNumber,
		CalledPartyNumber:  c.calledNumber,
		VideoDirection:     c.video,
		RemoteSDP:          string(c.remoteSDP),
	}
}

func (c *Call) stateLocked() ccapi.CallState {
	st, _ := ccapi.ParseCallState(c.fsm.Current())
	return st
}

func (c *Call) callID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dlg == nil {
		return ""
	}
	return c.dlg.callID
}

// fire выполняет допустимые переходы по порядку и сообщает наблюдателю о
// каждом. Недопустимые события пропускаются. На ONHOOK вызов удаляется из
// устройства и освобождает RTP сокет.
func (c *Call) fire(events ...string) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	for _, ev := range events {
		c.mu.Lock()
		if !c.fsm.Can(ev) {
			c.mu.Unlock()
			continue
		}
		if err := c.fsm.Event(context.Background(), ev); err != nil {
			c.mu.Unlock()
			c.engine.log.Debug("Call.fire", slog.String("event", ev), slog.Any("error", err))
			continue
		}
		info := c.infoLocked()
		if info.State != ccapi.StateRingIn && c.ringing != nil && c.inbound {
			close(c.ringing)
			c.ringing = nil
		}
		var conn net.PacketConn
		if info.State.IsTerminal() {
			conn, c.rtp, c.dtmf = c.rtp, nil, nil
		}
		c.mu.Unlock()

		if info.State.IsTerminal() {
			if conn != nil {
				conn.Close()
			}
			c.device.remove(c)
		}
		c.engine.log.Debug("Call.fire",
			slog.Uint64("call", uint64(c.handle)),
			slog.String("state", info.State.String()))
		if o := c.engine.getObserver(); o != nil {
			o.OnCallEvent(ccapi.CallEventStateChanged, c, info)
		}
	}
}

// background запускает сетевую операцию вызова, которую дождется Disconnect.
func (c *Call) background(st *stack, fn func(ctx context.Context)) {
	c.engine.wg.Add(1)
	go func() {
		defer c.engine.wg.Done()
		fn(st.ctx)
	}()
}

func newTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// targetURI переводит номер в SIP URI: полный URI используется как есть,
// иначе номер дополняется доменом регистрации.
func targetURI(st *stack, dest string) (sip.Uri, error) {
	var uri sip.Uri
	switch {
	case strings.HasPrefix(dest, "sip:") || strings.HasPrefix(dest, "sips:"):
		if err := sip.ParseUri(dest, &uri); err != nil {
			return uri, errors.Wrapf(err, "некорректный адрес %q", dest)
		}
	case strings.Contains(dest, "@"):
		if err := sip.ParseUri("sip:"+dest, &uri); err != nil {
			return uri, errors.Wrapf(err, "некорректный адрес %q", dest)
		}
	default:
		if st.params.domain == "" {
			return uri, errors.Errorf("нет домена для номера %q", dest)
		}
		uri = st.uri(dest, st.params.domain, 0)
	}
	return uri, nil
}

// Originate отправляет INVITE на номер или URI.
func (c *Call) Originate(ctx context.Context, dest string, video ccapi.Direction) error {
	st := c.engine.currentStack()
	if st == nil {
		return ErrNotStarted
	}
	target, err := targetURI(st, dest)
	if err != nil {
		return err
	}
	return c.originate(st, target, video)
}

// OriginateP2P отправляет INVITE напрямую на ip и порт remotevoipport.
func (c *Call) OriginateP2P(ctx context.Context, dest, ip string, video ccapi.Direction) error {
	st := c.engine.currentStack()
	if st == nil {
		return ErrNotStarted
	}
	if net.ParseIP(ip) == nil {
		return errors.Errorf("некорректный IP адрес %q", ip)
	}
	port := c.engine.intProp(ccapi.PropertyRemoteVoipPort, c.engine.cfg.RemotePort)
	return c.originate(st, st.uri(dest, ip, port), video)
}

func (c *Call) originate(st *stack, target sip.Uri, video ccapi.Direction) error {
	c.mu.Lock()
	if c.inbound || c.stateLocked() != ccapi.StateOffHook {
		c.mu.Unlock()
		return errors.Errorf("вызов %d уже используется", c.handle)
	}
	if err := c.openMediaLocked(st, video); err != nil {
		c.mu.Unlock()
		return err
	}
	body, err := buildSDP(c.media)
	if err != nil {
		c.mu.Unlock()
		return errors.Wrap(err, "SDP offer")
	}

	localHost := st.params.domain
	if localHost == "" {
		localHost = st.params.localIP
	}
	c.dlg = &dialog{
		callID:   uuid.NewString(),
		local:    st.uri(st.params.user, localHost, 0),
		remote:   target,
		localTag: newTag(),
		target:   target,
	}
	c.stack = st
	c.video = video
	c.calledNumber = target.User
	req := c.inviteLocked(st, body, "", "")
	c.invite = req
	ctx, cancel := context.WithCancel(st.ctx)
	c.stopInvite = cancel
	c.mu.Unlock()

	c.engine.log.Info("Исходящий вызов",
		slog.Uint64("call", uint64(c.handle)),
		slog.String("to", target.String()))
	c.fire(evDial)

	c.engine.wg.Add(1)
	go func() {
		defer c.engine.wg.Done()
		defer cancel()
		c.runInvite(ctx, st, req)
	}()
	return nil
}

// inviteLocked строит INVITE диалога с телом SDP.
func (c *Call) inviteLocked(st *stack, body []byte, credHdr, credValue string) *sip.Request {
	req := c.dlg.request(sip.INVITE, st.contact)
	req.AppendHeader(sip.NewHeader("Allow", allowMethods))
	ct := sip.ContentTypeHeader("application/sdp")
	req.AppendHeader(&ct)
	if credValue != "" {
		req.AppendHeader(sip.NewHeader(credHdr, credValue))
	}
	req.SetBody(body)
	if c.dlg.remoteTag == "" && st.registrar != "" {
		req.SetDestination(st.registrar)
	}
	return req
}

// runInvite проводит транзакцию INVITE до финального ответа. На 401/407
// запрос повторяется один раз с учетными данными.
func (c *Call) runInvite(ctx context.Context, st *stack, req *sip.Request) {
	authorized := false
	for {
		tx, err := st.client.TransactionRequest(ctx, req)
		if err != nil {
			c.engine.log.Warn("Не удалось отправить INVITE", slog.Any("error", err))
			c.fire(evReorder, evHangup)
			return
		}
		res := finalResponse(ctx, tx, c.onProvisional)
		tx.Terminate()
		if res == nil {
			if ctx.Err() != nil {
				c.fire(evHangup)
			} else {
				c.fire(evReorder, evHangup)
			}
			return
		}

		code := res.StatusCode
		switch {
		case code >= 200 && code < 300:
			c.onAnswered(st, req, res)
			return
		case (code == sip.StatusUnauthorized || code == sip.StatusProxyAuthRequired) && !authorized:
			authorized = true
			hdr, value, err := authorize(req, res, st.params.user, st.params.password)
			if err != nil {
				c.engine.log.Warn("INVITE: ошибка аутентификации", slog.Any("error", err))
				c.fire(evReorder, evHangup)
				return
			}
			c.mu.Lock()
			req = c.inviteLocked(st, req.Body(), hdr, value)
			c.invite = req
			c.provisional = false
			c.mu.Unlock()
		case code == sip.StatusBusyHere || code == 600:
			c.fire(evBusy, evHangup)
			return
		case code == sip.StatusRequestTerminated:
			c.fire(evHangup)
			return
		default:
			c.engine.log.Info("Вызов отклонен",
				slog.Int("code", int(code)),
				slog.String("reason", res.Reason))
			c.fire(evReorder, evHangup)
			return
		}
	}
}

// finalResponse ждет финальный ответ клиентской транзакции.
func finalResponse(ctx context.Context, tx sip.ClientTransaction, onProvisional func(*sip.Response)) *sip.Response {
	for {
		select {
		case res := <-tx.Responses():
			if res == nil {
				continue
			}
			if res.StatusCode < 200 {
				if onProvisional != nil {
					onProvisional(res)
				}
				continue
			}
			return res
		case <-tx.Done():
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Call) onProvisional(res *sip.Response) {
	c.mu.Lock()
	c.provisional = true
	c.mu.Unlock()
	switch {
	case res.StatusCode == sip.StatusTrying:
		c.fire(evProceed)
	case res.StatusCode == sip.StatusRinging || res.StatusCode == 183:
		c.fire(evRingOut)
	}
}

// onAnswered подтверждает 2xx. Если вызов уже завершен локально, сразу
// отправляется BYE.
func (c *Call) onAnswered(st *stack, req *sip.Request, res *sip.Response) {
	c.mu.Lock()
	if to := res.To(); to != nil {
		c.dlg.remoteTag = tagOf(to.Params)
	}
	if contact := res.Contact(); contact != nil {
		c.dlg.target = contact.Address
	}
	if body := res.Body(); len(body) > 0 {
		c.setRemoteLocked(body)
	}
	ack := c.dlg.ack(req.CSeq().SeqNo)
	ended := c.stateLocked() == ccapi.StateOnHook
	c.mu.Unlock()

	ack.SetDestination(res.Source())
	if err := st.client.WriteRequest(ack); err != nil {
		c.engine.log.Warn("Не удалось отправить ACK", slog.Any("error", err))
	}
	if ended {
		c.sendBye(st.ctx, st)
		return
	}
	c.fire(evConnect)
}

// acceptInvite принимает новый входящий INVITE: 180 Ringing и RINGIN.
// Возвращается, когда вызов покинул RINGIN, отменен или транзакция
// завершилась.
func (c *Call) acceptInvite(st *stack, req *sip.Request, tx sip.ServerTransaction) {
	c.mu.Lock()
	from, to := req.From(), req.To()
	c.stack = st
	c.invite = req
	c.serverTx = tx
	c.callingName = from.DisplayName
	c.callingNumber = from.Address.User
	c.calledNumber = to.Address.User
	c.video = ccapi.DirectionInactive

	target := from.Address
	if contact := req.Contact(); contact != nil {
		target = contact.Address
	}
	c.dlg = &dialog{
		callID:    string(*req.CallID()),
		local:     to.Address,
		remote:    from.Address,
		localTag:  newTag(),
		remoteTag: tagOf(from.Params),
		target:    target,
	}
	if body := req.Body(); len(body) > 0 {
		c.setRemoteLocked(body)
		if c.remote.Video {
			c.video = c.remote.VideoDirection
		}
	}
	ringing := c.responseLocked(req, sip.StatusRinging, "Ringing", nil)
	settled := c.ringing
	c.mu.Unlock()

	// CANCEL на открытую транзакцию INVITE транзакционный слой sipgo
	// отвечает сам (200 и 487), до обработчика сервера он не доходит.
	cancelled := make(chan struct{})
	var cancelOnce sync.Once
	if !tx.OnCancel(func(*sip.Request) { cancelOnce.Do(func() { close(cancelled) }) }) {
		c.fire(evHangup)
		return
	}

	if err := tx.Respond(ringing); err != nil {
		c.engine.log.Warn("Не удалось отправить 180", slog.Any("error", err))
	}
	c.engine.log.Info("Входящий вызов",
		slog.Uint64("call", uint64(c.handle)),
		slog.String("from", c.callingNumber))
	c.fire(evRingIn)

	select {
	case <-settled:
	case <-cancelled:
		c.engine.log.Info("Входящий вызов отменен", slog.Uint64("call", uint64(c.handle)))
		c.fire(evHangup)
	case <-tx.Done():
		// транзакция завершилась без нашего ответа: отмена вызывающей стороной
		c.fire(evHangup)
	case <-st.ctx.Done():
	}
}

// responseLocked строит ответ с To tag диалога и нашим Contact.
func (c *Call) responseLocked(req *sip.Request, code int, reason string, body []byte) *sip.Response {
	res := sip.NewResponseFromRequest(req, code, reason, body)
	if to := res.To(); to != nil && code > 100 {
		if to.Params == nil {
			to.Params = sip.NewParams()
		}
		if tagOf(to.Params) == "" {
			to.Params.Add("tag", c.dlg.localTag)
		}
	}
	if code > 100 && code < 300 && c.stack != nil {
		res.AppendHeader(&sip.ContactHeader{Address: c.stack.contact})
	}
	if len(body) > 0 {
		ct := sip.ContentTypeHeader("application/sdp")
		res.AppendHeader(&ct)
	}
	return res
}

// Answer отвечает 200 OK на входящий вызов.
func (c *Call) Answer(ctx context.Context, video ccapi.Direction) error {
	c.mu.Lock()
	if !c.inbound || c.stateLocked() != ccapi.StateRingIn {
		c.mu.Unlock()
		return errors.Errorf("вызов %d нельзя принять в состоянии %s", c.handle, c.fsm.Current())
	}
	st := c.stack
	wantVideo := ccapi.DirectionInactive
	if c.remote.Video || len(c.remoteSDP) == 0 {
		wantVideo = video
		if len(c.remoteSDP) > 0 {
			wantVideo = answerDirection(c.remote.VideoDirection, video)
		}
	}
	if err := c.openMediaLocked(st, wantVideo); err != nil {
		c.mu.Unlock()
		return err
	}
	if len(c.remoteSDP) > 0 {
		c.media.audio = answerDirection(c.remote.Direction, ccapi.DirectionSendRecv)
	}
	body, err := buildSDP(c.media)
	if err != nil {
		c.mu.Unlock()
		return errors.Wrap(err, "SDP answer")
	}
	c.video = wantVideo
	res := c.responseLocked(c.invite, sip.StatusOK, "OK", body)
	tx := c.serverTx
	c.mu.Unlock()

	if err := tx.Respond(res); err != nil {
		return errors.Wrap(err, "отправка 200 OK")
	}
	c.fire(evConnect)
	return nil
}

// End завершает вызов способом, зависящим от состояния: CANCEL для
// исходящего раннего вызова, 486 для входящего, BYE для установленного.
func (c *Call) End(ctx context.Context) error {
	st := c.engine.currentStack()
	if st == nil {
		c.fire(evHangup)
		return nil
	}
	c.hangup(ctx, st, true)
	return nil
}

// terminate завершает вызов синхронно при остановке стека.
func (c *Call) terminate(ctx context.Context, st *stack) {
	c.hangup(ctx, st, false)
}

func (c *Call) hangup(ctx context.Context, st *stack, async bool) {
	c.mu.Lock()
	state := c.stateLocked()
	var (
		reject *sip.Response
		tx     sip.ServerTransaction
		cancel *sip.Request
		bye    bool
	)
	switch state {
	case ccapi.StateOnHook:
		c.mu.Unlock()
		return
	case ccapi.StateRingIn:
		reject = c.responseLocked(c.invite, sip.StatusBusyHere, "Busy Here", nil)
		tx = c.serverTx
	case ccapi.StateDialing, ccapi.StateProceed, ccapi.StateRingOut:
		if c.provisional {
			cancel = buildCancel(c.invite)
		} else if c.stopInvite != nil {
			c.stopInvite()
		}
	case ccapi.StateConnected, ccapi.StateHold, ccapi.StateRemHold, ccapi.StateResume:
		bye = true
	}
	c.mu.Unlock()

	if reject != nil {
		if err := tx.Respond(reject); err != nil {
			c.engine.log.Warn("Не удалось отклонить вызов", slog.Any("error", err))
		}
	}
	send := func(ctx context.Context) {
		switch {
		case cancel != nil:
			res, err := st.client.Do(ctx, cancel)
			if err != nil {
				c.engine.log.Warn("CANCEL не доставлен", slog.Any("error", err))
			} else {
				c.engine.log.Debug("Call.hangup CANCEL", slog.Int("code", int(res.StatusCode)))
			}
		case bye:
			c.sendBye(ctx, st)
		}
	}
	if async {
		c.background(st, send)
	} else {
		send(ctx)
	}
	c.fire(evHangup)
}

func (c *Call) sendBye(ctx context.Context, st *stack) {
	c.mu.Lock()
	req := c.dlg.request(sip.BYE, st.contact)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := st.client.Do(ctx, req)
	if err != nil {
		c.engine.log.Warn("BYE не доставлен", slog.Any("error", err))
		return
	}
	c.engine.log.Debug("Call.sendBye", slog.Int("code", int(res.StatusCode)))
}

// Hold ставит вызов на удержание re-INVITE с a=sendonly. Вызов, уже
// удерживаемый удаленной стороной, переводится в a=inactive.
func (c *Call) Hold(ctx context.Context) error {
	c.mu.Lock()
	dir := ccapi.DirectionSendOnly
	if c.stateLocked() == ccapi.StateRemHold {
		dir = ccapi.DirectionInactive
	}
	c.mu.Unlock()
	return c.reinvite(dir, []ccapi.CallState{ccapi.StateConnected, ccapi.StateResume, ccapi.StateRemHold}, evHold)
}

// Resume снимает удержание re-INVITE с a=sendrecv.
func (c *Call) Resume(ctx context.Context, video ccapi.Direction) error {
	c.mu.Lock()
	if c.remote.Video {
		c.video = video
		c.media.video = video
	}
	c.mu.Unlock()
	return c.reinvite(ccapi.DirectionSendRecv, []ccapi.CallState{ccapi.StateHold}, evResume, evConnect)
}

func (c *Call) reinvite(dir ccapi.Direction, from []ccapi.CallState, events ...string) error {
	c.mu.Lock()
	state := c.stateLocked()
	allowed := false
	for _, s := range from {
		allowed = allowed || s == state
	}
	if !allowed || c.dlg == nil || c.dlg.remoteTag == "" {
		c.mu.Unlock()
		return errors.Errorf("re-INVITE недопустим в состоянии %s", state)
	}
	st := c.stack
	c.media.audio = dir
	c.media.version++
	body, err := buildSDP(c.media)
	if err != nil {
		c.mu.Unlock()
		return errors.Wrap(err, "SDP re-INVITE")
	}
	req := c.inviteLocked(st, body, "", "")
	c.mu.Unlock()

	c.background(st, func(ctx context.Context) {
		tx, err := st.client.TransactionRequest(ctx, req)
		if err != nil {
			c.engine.log.Warn("re-INVITE не отправлен", slog.Any("error", err))
			return
		}
		res := finalResponse(ctx, tx, nil)
		tx.Terminate()
		if res == nil || res.StatusCode < 200 || res.StatusCode >= 300 {
			c.engine.log.Warn("re-INVITE отклонен", slog.Any("response", res))
			return
		}
		c.mu.Lock()
		if body := res.Body(); len(body) > 0 {
			c.setRemoteLocked(body)
		}
		ack := c.dlg.ack(req.CSeq().SeqNo)
		c.mu.Unlock()
		ack.SetDestination(res.Source())
		if err := st.client.WriteRequest(ack); err != nil {
			c.engine.log.Warn("Не удалось отправить ACK", slog.Any("error", err))
		}
		c.fire(events...)
	})
	return nil
}

// onReinvite отвечает на re-INVITE удаленной стороны и отслеживает удержание.
func (c *Call) onReinvite(req *sip.Request, tx sip.ServerTransaction) {
	c.mu.Lock()
	state := c.stateLocked()
	if len(req.Body()) > 0 {
		c.setRemoteLocked(req.Body())
	}
	remoteDir := c.remote.Direction
	wanted := ccapi.DirectionSendRecv
	if state == ccapi.StateHold {
		wanted = ccapi.DirectionSendOnly
	}
	c.media.audio = answerDirection(remoteDir, wanted)
	c.media.version++
	body, err := buildSDP(c.media)
	if err != nil {
		c.mu.Unlock()
		c.engine.log.Warn("SDP ответа на re-INVITE", slog.Any("error", err))
		tx.Respond(sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil))
		return
	}
	res := c.responseLocked(req, sip.StatusOK, "OK", body)
	c.mu.Unlock()

	if err := tx.Respond(res); err != nil {
		c.engine.log.Warn("Не удалось ответить на re-INVITE", slog.Any("error", err))
		return
	}
	switch {
	case isHeld(remoteDir):
		c.fire(evRemHold)
	case state == ccapi.StateRemHold:
		c.fire(evConnect)
	}
}

// SendDigit отправляет цифру способом из Config.DTMFMode.
func (c *Call) SendDigit(ctx context.Context, d dtmf.Digit) error {
	if !d.Valid() {
		return errors.Errorf("некорректная цифра DTMF")
	}
	c.mu.Lock()
	state := c.stateLocked()
	if !ccapi.CapabilitiesFor(state).Has(ccapi.CanSendDigit) || c.dlg == nil || c.dlg.remoteTag == "" {
		c.mu.Unlock()
		return errors.Errorf("вызов %d не может отправить цифру в состоянии %s", c.handle, state)
	}
	st := c.stack

	if c.engine.cfg.DTMFMode == DTMFRFC4733 {
		sender := c.dtmf
		c.mu.Unlock()
		if sender == nil {
			return errors.New("нет RTP адреса удаленной стороны")
		}
		return sender.Send(ctx, d)
	}

	req := c.dlg.request(sip.INFO, st.contact)
	c.mu.Unlock()
	ct := sip.ContentTypeHeader("application/dtmf-relay")
	req.AppendHeader(&ct)
	req.SetBody([]byte(fmt.Sprintf("Signal=%s\r\nDuration=%d\r\n", d, rtpdtmf.DefaultDuration.Milliseconds())))

	res, err := st.client.Do(ctx, req)
	if err != nil {
		return errors.Wrap(err, "INFO")
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return errors.Errorf("INFO отклонен: %d %s", res.StatusCode, res.Reason)
	}
	return nil
}

// openMediaLocked занимает RTP сокет и готовит локальное описание медиа.
func (c *Call) openMediaLocked(st *stack, video ccapi.Direction) error {
	if c.rtp == nil {
		addr := net.JoinHostPort(c.engine.cfg.ListenHost, strconv.Itoa(c.engine.cfg.MediaPort))
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return errors.Wrapf(err, "RTP сокет %s", addr)
		}
		c.rtp = conn
	}
	c.media = mediaParams{
		sessionID: newSessionID(),
		version:   1,
		ip:        st.params.localIP,
		port:      c.rtp.LocalAddr().(*net.UDPAddr).Port,
		codecs:    c.engine.cfg.Codecs,
		dtmfPT:    c.engine.cfg.DTMFPayloadType,
		audio:     ccapi.DirectionSendRecv,
		video:     video,
	}
	if c.remote.Addr() != nil {
		c.updateSenderLocked()
	}
	return nil
}

// setRemoteLocked запоминает SDP удаленной стороны.
func (c *Call) setRemoteLocked(body []byte) {
	remote, err := parseSDP(body)
	if err != nil {
		c.engine.log.Warn("Некорректный SDP удаленной стороны", slog.Any("error", err))
		return
	}
	c.remoteSDP = body
	c.remote = remote
	c.updateSenderLocked()
}

func (c *Call) updateSenderLocked() {
	if c.engine.cfg.DTMFMode != DTMFRFC4733 || c.rtp == nil {
		return
	}
	addr := c.remote.Addr()
	if addr == nil {
		return
	}
	if c.dtmf != nil {
		c.dtmf.SetRemote(addr)
		return
	}
	cfg := rtpdtmf.DefaultSenderConfig()
	cfg.Logger = c.engine.log
	if c.remote.DTMFPayloadType != 0 {
		cfg.PayloadType = c.remote.DTMFPayloadType
	} else {
		cfg.PayloadType = c.engine.cfg.DTMFPayloadType
	}
	sender, err := rtpdtmf.NewSender(c.rtp, addr, cfg)
	if err != nil {
		c.engine.log.Warn("RTP DTMF недоступен", slog.Any("error", err))
		return
	}
	c.dtmf = sender
}
