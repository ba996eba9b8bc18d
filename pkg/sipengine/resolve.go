package sipengine

import (
	"cmp"
	"context"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// Resolver ищет адрес SIP сервера домена через записи SRV.
type Resolver struct {
	// NameServer адрес DNS сервера. Пустое значение берет /etc/resolv.conf
	NameServer string
	Timeout    time.Duration
	Logger     *slog.Logger
}

func (r *Resolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 3 * time.Second
}

func (r *Resolver) nameserver() (string, error) {
	if r.NameServer != "" {
		if _, _, err := net.SplitHostPort(r.NameServer); err != nil {
			return net.JoinHostPort(r.NameServer, "53"), nil
		}
		return r.NameServer, nil
	}
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return "", errors.Wrap(err, "resolv.conf")
	}
	if len(conf.Servers) == 0 {
		return "", errors.New("в resolv.conf нет DNS серверов")
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}

// LookupSRV возвращает записи _sip._<transport>.<domain>, отсортированные
// по приоритету и убыванию веса.
func (r *Resolver) LookupSRV(ctx context.Context, transport, domain string) ([]*dns.SRV, error) {
	ns, err := r.nameserver()
	if err != nil {
		return nil, err
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn("_sip._"+strings.ToLower(transport)+"."+domain), dns.TypeSRV)
	m.RecursionDesired = true

	client := &dns.Client{Timeout: r.timeout()}
	resp, _, err := client.ExchangeContext(ctx, m, ns)
	if err != nil {
		return nil, errors.Wrap(err, "srv запрос")
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, &net.DNSError{
			Err:        dns.RcodeToString[resp.Rcode],
			Name:       domain,
			IsNotFound: resp.Rcode == dns.RcodeNameError,
		}
	}

	var recs []*dns.SRV
	for _, ans := range resp.Answer {
		if srv, ok := ans.(*dns.SRV); ok {
			recs = append(recs, srv)
		}
	}
	slices.SortFunc(recs, func(a, b *dns.SRV) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(b.Weight, a.Weight)
	})
	return recs, nil
}

// Resolve возвращает host:port сервера для домена. IP адрес и явный порт
// используются как есть, иначе берется первая запись SRV, а при ее
// отсутствии сам домен с портом по умолчанию.
func (r *Resolver) Resolve(ctx context.Context, transport, domain string, defaultPort int) string {
	if host, port, err := net.SplitHostPort(domain); err == nil {
		return net.JoinHostPort(host, port)
	}
	fallback := net.JoinHostPort(domain, strconv.Itoa(defaultPort))
	if net.ParseIP(domain) != nil {
		return fallback
	}

	recs, err := r.LookupSRV(ctx, transport, domain)
	if err != nil || len(recs) == 0 {
		r.logger().Debug("Resolver.Resolve srv не найден",
			slog.String("domain", domain),
			slog.Any("error", err))
		return fallback
	}
	target := strings.TrimSuffix(recs[0].Target, ".")
	return net.JoinHostPort(target, strconv.Itoa(int(recs[0].Port)))
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
