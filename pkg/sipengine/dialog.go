package sipengine

import (
	"strconv"
	"sync/atomic"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
	"github.com/pkg/errors"
)

// dialog идентификаторы SIP диалога, из которых строятся запросы внутри него.
type dialog struct {
	callID    string
	local     sip.Uri
	remote    sip.Uri
	localTag  string
	remoteTag string
	// target Request-URI запросов внутри диалога (Contact удаленной стороны)
	target sip.Uri
	cseq   atomic.Uint32
}

// request строит запрос внутри диалога со следующим CSeq.
func (d *dialog) request(method sip.RequestMethod, contact sip.Uri) *sip.Request {
	return d.requestSeq(method, d.cseq.Add(1), contact)
}

func (d *dialog) requestSeq(method sip.RequestMethod, seq uint32, contact sip.Uri) *sip.Request {
	req := sip.NewRequest(method, d.target)

	fromParams := sip.NewParams()
	fromParams.Add("tag", d.localTag)
	req.AppendHeader(&sip.FromHeader{Address: d.local, Params: fromParams})

	toParams := sip.NewParams()
	if d.remoteTag != "" {
		toParams.Add("tag", d.remoteTag)
	}
	req.AppendHeader(&sip.ToHeader{Address: d.remote, Params: toParams})

	callID := sip.CallIDHeader(d.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: method})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	if method != sip.ACK {
		req.AppendHeader(&sip.ContactHeader{Address: contact})
	}
	return req
}

// ack подтверждает 2xx на INVITE с номером seq.
func (d *dialog) ack(seq uint32) *sip.Request {
	return d.requestSeq(sip.ACK, seq, sip.Uri{})
}

// buildCancel отменяет отправленный INVITE: Via, From, To, Call-ID и номер
// CSeq совпадают с исходным запросом.
func buildCancel(invite *sip.Request) *sip.Request {
	cancel := sip.NewRequest(sip.CANCEL, invite.Recipient)
	sip.CopyHeaders("Via", invite, cancel)
	sip.CopyHeaders("From", invite, cancel)
	sip.CopyHeaders("To", invite, cancel)
	sip.CopyHeaders("Call-ID", invite, cancel)
	if cseq := invite.CSeq(); cseq != nil {
		cancel.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancel.AppendHeader(&maxFwd)
	if dst := invite.Destination(); dst != "" {
		cancel.SetDestination(dst)
	}
	return cancel
}

// tagOf возвращает параметр tag заголовка To или From.
func tagOf(params sip.HeaderParams) string {
	if params == nil {
		return ""
	}
	tag, _ := params.Get("tag")
	return tag
}

// authorize отвечает на 401/407 вызовом digest. Возвращает имя и значение
// заголовка для повтора запроса.
func authorize(req *sip.Request, res *sip.Response, user, password string) (string, string, error) {
	challengeHdr, credHdr := "WWW-Authenticate", "Authorization"
	if res.StatusCode == sip.StatusProxyAuthRequired {
		challengeHdr, credHdr = "Proxy-Authenticate", "Proxy-Authorization"
	}
	if user == "" {
		return "", "", errors.New("сервер требует аутентификацию, но пользователь не задан")
	}
	h := res.GetHeader(challengeHdr)
	if h == nil {
		return "", "", errors.Errorf("в ответе %d нет заголовка %s", res.StatusCode, challengeHdr)
	}
	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return "", "", errors.Wrap(err, "разбор challenge")
	}
	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      req.Recipient.String(),
		Username: user,
		Password: password,
	})
	if err != nil {
		return "", "", errors.Wrap(err, "вычисление digest")
	}
	return credHdr, cred.String(), nil
}

// expiresOf срок регистрации из Contact или Expires ответа.
func expiresOf(res *sip.Response) (int, bool) {
	if c := res.Contact(); c != nil && c.Params != nil {
		if v, ok := c.Params.Get("expires"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	if h := res.GetHeader("Expires"); h != nil {
		if n, err := strconv.Atoi(h.Value()); err == nil {
			return n, true
		}
	}
	return 0, false
}
