package dns

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/dns/dnsmessage"
)

// Transport is the DNS protocol used to reach the resolver.
type Transport string

const (
	TransportUDP Transport = "udp" // traditional DNS over UDP
	TransportTCP Transport = "tcp" // DNS over TCP
	TransportDoH Transport = "doh" // DNS over HTTPS (JSON API)
)

// QueryResult holds the answers of one lookup plus the resolver-reported
// query time.
type QueryResult struct {
	Records   []string      `json:"records"`
	QueryTime time.Duration `json:"query_time"`
}

// Resolver queries a single DNS server.
type Resolver struct {
	Server    string // e.g. 8.8.8.8:53 or https://dns.google/resolve
	Transport Transport
	Timeout   time.Duration
}

func NewResolver(server string, transport Transport) *Resolver {
	if transport == "" {
		transport = TransportUDP
	}
	return &Resolver{
		Server:    server,
		Transport: transport,
		Timeout:   10 * time.Second,
	}
}

// Lookup resolves the named record type (A, AAAA, CNAME, MX, TXT, NS;
// defaults to A) and measures the query round trip.
func (r *Resolver) Lookup(ctx context.Context, domain, recordType string) (*QueryResult, error) {
	qtype, err := parseRecordType(recordType)
	if err != nil {
		return nil, err
	}

	switch r.Transport {
	case TransportTCP:
		return r.lookupStream(ctx, domain, qtype)
	case TransportDoH:
		return r.lookupDoH(ctx, domain, recordType)
	default:
		return r.lookupUDP(ctx, domain, qtype)
	}
}

func parseRecordType(recordType string) (dnsmessage.Type, error) {
	switch strings.ToUpper(recordType) {
	case "", "A":
		return dnsmessage.TypeA, nil
	case "AAAA":
		return dnsmessage.TypeAAAA, nil
	case "CNAME":
		return dnsmessage.TypeCNAME, nil
	case "MX":
		return dnsmessage.TypeMX, nil
	case "TXT":
		return dnsmessage.TypeTXT, nil
	case "NS":
		return dnsmessage.TypeNS, nil
	default:
		return 0, fmt.Errorf("unsupported record type: %s", recordType)
	}
}

func (r *Resolver) buildQuery(domain string, qtype dnsmessage.Type) ([]byte, error) {
	name, err := dnsmessage.NewName(domain + ".")
	if err != nil {
		return nil, fmt.Errorf("invalid domain name: %w", err)
	}

	msg := dnsmessage.Message{
		Header: dnsmessage.Header{
			RecursionDesired: true,
		},
		Questions: []dnsmessage.Question{
			{
				Name:  name,
				Type:  qtype,
				Class: dnsmessage.ClassINET,
			},
		},
	}

	buf, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack message failed: %w", err)
	}
	return buf, nil
}

func (r *Resolver) lookupUDP(ctx context.Context, domain string, qtype dnsmessage.Type) (*QueryResult, error) {
	buf, err := r.buildQuery(domain, qtype)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: r.Timeout}
	conn, err := dialer.DialContext(ctx, "udp", r.Server)
	if err != nil {
		return nil, fmt.Errorf("UDP dial failed: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(r.Timeout)
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	start := time.Now()
	if _, err := conn.Write(buf); err != nil {
		return nil, fmt.Errorf("send query failed: %w", err)
	}

	respBuf := make([]byte, 4096)
	n, err := conn.Read(respBuf)
	if err != nil {
		return nil, fmt.Errorf("receive response failed: %w", err)
	}
	elapsed := time.Since(start)

	return parseResponse(respBuf[:n], qtype, elapsed)
}

// lookupStream queries over TCP, which prefixes messages with a two byte
// length.
func (r *Resolver) lookupStream(ctx context.Context, domain string, qtype dnsmessage.Type) (*QueryResult, error) {
	buf, err := r.buildQuery(domain, qtype)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: r.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.Server)
	if err != nil {
		return nil, fmt.Errorf("TCP dial failed: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(r.Timeout)
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	framed := make([]byte, 2+len(buf))
	binary.BigEndian.PutUint16(framed, uint16(len(buf)))
	copy(framed[2:], buf)

	start := time.Now()
	if _, err := conn.Write(framed); err != nil {
		return nil, fmt.Errorf("send query failed: %w", err)
	}

	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, fmt.Errorf("receive response failed: %w", err)
	}
	respLen := binary.BigEndian.Uint16(header)
	respBuf := make([]byte, respLen)
	if _, err := io.ReadFull(conn, respBuf); err != nil {
		return nil, fmt.Errorf("receive response failed: %w", err)
	}
	elapsed := time.Since(start)

	return parseResponse(respBuf, qtype, elapsed)
}

type dohAnswer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	Data string `json:"data"`
}

type dohResponse struct {
	Status int         `json:"Status"`
	Answer []dohAnswer `json:"Answer"`
}

func (r *Resolver) lookupDoH(ctx context.Context, domain, recordType string) (*QueryResult, error) {
	if recordType == "" {
		recordType = "A"
	}
	url := fmt.Sprintf("%s?name=%s&type=%s", r.Server, domain, strings.ToUpper(recordType))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build DoH request failed: %w", err)
	}
	req.Header.Set("Accept", "application/dns-json")

	client := &http.Client{Timeout: r.Timeout}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("DoH request failed: %w", err)
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DoH server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read DoH response failed: %w", err)
	}

	var parsed dohResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse DoH response failed: %w", err)
	}
	if parsed.Status != 0 {
		return nil, fmt.Errorf("DoH query failed with rcode %d", parsed.Status)
	}
	if len(parsed.Answer) == 0 {
		return nil, fmt.Errorf("no records found for %s", domain)
	}

	records := make([]string, 0, len(parsed.Answer))
	for _, a := range parsed.Answer {
		records = append(records, a.Data)
	}

	return &QueryResult{Records: records, QueryTime: elapsed}, nil
}

func parseResponse(raw []byte, qtype dnsmessage.Type, elapsed time.Duration) (*QueryResult, error) {
	var msg dnsmessage.Message
	if err := msg.Unpack(raw); err != nil {
		return nil, fmt.Errorf("unpack response failed: %w", err)
	}

	if msg.Header.RCode != dnsmessage.RCodeSuccess {
		return nil, fmt.Errorf("query failed with rcode %s", msg.Header.RCode)
	}

	var records []string
	for _, answer := range msg.Answers {
		switch body := answer.Body.(type) {
		case *dnsmessage.AResource:
			records = append(records, net.IP(body.A[:]).String())
		case *dnsmessage.AAAAResource:
			records = append(records, net.IP(body.AAAA[:]).String())
		case *dnsmessage.CNAMEResource:
			records = append(records, strings.TrimSuffix(body.CNAME.String(), "."))
		case *dnsmessage.MXResource:
			records = append(records, fmt.Sprintf("%d %s", body.Pref, strings.TrimSuffix(body.MX.String(), ".")))
		case *dnsmessage.TXTResource:
			records = append(records, strings.Join(body.TXT, " "))
		case *dnsmessage.NSResource:
			records = append(records, strings.TrimSuffix(body.NS.String(), "."))
		}
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no %s records in response", qtype)
	}

	return &QueryResult{Records: records, QueryTime: elapsed}, nil
}
