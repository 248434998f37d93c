package check

import (
	"fmt"
	"time"
)

// Type identifies the protocol a check speaks. The set is closed: executor
// selection, payload validation and agent capabilities all switch over it.
type Type string

const (
	TypeHTTP     Type = "http"
	TypeTCP      Type = "tcp"
	TypeDNS      Type = "dns"
	TypePing     Type = "ping"
	TypeSMTP     Type = "smtp"
	TypeRabbitMQ Type = "rabbitmq"
)

// Kind discriminates result payloads on the wire. A primary result carries
// the check's own type; the ssl and body side-results of an HTTP check are
// reported separately under their own kinds.
type Kind string

const (
	KindCheck Kind = "check"
	KindSSL   Kind = "ssl"
	KindBody  Kind = "body"
)

// Status of a single observation or of the persisted check state.
type Status int

const (
	StatusDown    Status = 0
	StatusUp      Status = 1
	StatusUnknown Status = 3 // created, never observed
)

// Priority of a check, carried into alert messages.
type Priority string

const (
	PriorityInfo     Priority = "info"
	PriorityWarning  Priority = "warning"
	PriorityError    Priority = "error"
	PriorityCritical Priority = "critical"
)

func ValidType(t Type) bool {
	switch t {
	case TypeHTTP, TypeTCP, TypeDNS, TypePing, TypeSMTP, TypeRabbitMQ:
		return true
	}
	return false
}

// Spec is the full description of a scheduled check as it travels from the
// master to an agent. Exactly one of the per-type parameter blocks is set,
// matching Type.
type Spec struct {
	ID       uint32 `json:"id"`
	Name     string `json:"name"`
	Type     Type   `json:"check_type"`
	Interval int    `json:"interval"` // seconds
	Timeout  int    `json:"timeout"`  // seconds, must stay below Interval

	HTTP     *HTTPParams     `json:"http,omitempty"`
	TCP      *TCPParams      `json:"tcp,omitempty"`
	DNS      *DNSParams      `json:"dns,omitempty"`
	Ping     *PingParams     `json:"ping,omitempty"`
	SMTP     *SMTPParams     `json:"smtp,omitempty"`
	RabbitMQ *RabbitMQParams `json:"rabbitmq,omitempty"`
}

type HTTPParams struct {
	URL           string            `json:"url"`
	Method        string            `json:"method,omitempty"` // default GET
	Headers       map[string]string `json:"headers,omitempty"`
	BodySubstring string            `json:"body_substring,omitempty"` // enables the body side-check
}

type TCPParams struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

type DNSParams struct {
	Name       string `json:"name"`
	Resolver   string `json:"resolver"`              // e.g. 8.8.8.8:53
	RecordType string `json:"record_type,omitempty"` // A, AAAA, CNAME, MX, TXT, NS
}

type PingParams struct {
	Host       string `json:"host"`
	PacketSize int    `json:"packet_size,omitempty"` // bytes, default 56
}

type SMTPParams struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	UseTLS   bool   `json:"use_tls,omitempty"`
}

type RabbitMQParams struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	VHost    string `json:"vhost,omitempty"`
}

// Validate enforces the scheduling invariants and the type/params pairing.
func (s *Spec) Validate() error {
	if !ValidType(s.Type) {
		return fmt.Errorf("unsupported check type: %s", s.Type)
	}
	if s.Interval < 1 {
		return fmt.Errorf("interval must be at least 1 second")
	}
	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second")
	}
	if s.Timeout >= s.Interval {
		return fmt.Errorf("timeout (%ds) must be below interval (%ds)", s.Timeout, s.Interval)
	}

	var ok bool
	switch s.Type {
	case TypeHTTP:
		ok = s.HTTP != nil && s.HTTP.URL != ""
	case TypeTCP:
		ok = s.TCP != nil && s.TCP.IP != "" && s.TCP.Port > 0
	case TypeDNS:
		ok = s.DNS != nil && s.DNS.Name != "" && s.DNS.Resolver != ""
	case TypePing:
		ok = s.Ping != nil && s.Ping.Host != ""
	case TypeSMTP:
		ok = s.SMTP != nil && s.SMTP.Host != "" && s.SMTP.Port > 0
	case TypeRabbitMQ:
		ok = s.RabbitMQ != nil && s.RabbitMQ.Host != "" && s.RabbitMQ.Port > 0
	}
	if !ok {
		return fmt.Errorf("missing or incomplete %s parameters", s.Type)
	}
	return nil
}

// Result is one observation produced by an executor. ResponseTime is set only
// on success; failures leave it nil and carry a human-readable Error.
type Result struct {
	CheckID      uint32
	Kind         Kind
	Type         Type
	Status       Status
	At           time.Time // UTC
	ResponseTime *int64    // milliseconds
	Error        string

	// ssl kind only
	SSLExpiry *time.Time
	SSLNow    *time.Time
	URL       string
	Name      string
}

// ResultPayload is the wire form posted to the master's ingest endpoint.
// check_type carries the protocol for primary results and "ssl"/"body" for
// the HTTP side-results.
type ResultPayload struct {
	CheckID      uint32 `json:"check_id"`
	CheckType    string `json:"check_type"`
	NowUTC       string `json:"now_utc"`
	Status       *int   `json:"status,omitempty"`
	ResponseTime *int64 `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`

	SSLDateExp string `json:"ssl_date_exp,omitempty"`
	NowDate    string `json:"now_date,omitempty"`
	URL        string `json:"url,omitempty"`
	Name       string `json:"name,omitempty"`
}

// TimeLayout is the timestamp format used on the agent/master wire.
const TimeLayout = "2006-01-02 15:04:05"

// Payload converts a Result into its wire form.
func (r *Result) Payload() ResultPayload {
	p := ResultPayload{
		CheckID:      r.CheckID,
		NowUTC:       r.At.UTC().Format(TimeLayout),
		ResponseTime: r.ResponseTime,
		Error:        r.Error,
		URL:          r.URL,
		Name:         r.Name,
	}

	switch r.Kind {
	case KindSSL:
		p.CheckType = string(KindSSL)
		if r.SSLExpiry != nil {
			p.SSLDateExp = r.SSLExpiry.UTC().Format(TimeLayout)
		}
		if r.SSLNow != nil {
			p.NowDate = r.SSLNow.UTC().Format(TimeLayout)
		}
	case KindBody:
		p.CheckType = string(KindBody)
		s := int(r.Status)
		p.Status = &s
	default:
		p.CheckType = string(r.Type)
		s := int(r.Status)
		p.Status = &s
	}
	return p
}
