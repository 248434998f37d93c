package dns

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"
)

func TestParseRecordType(t *testing.T) {
	cases := map[string]dnsmessage.Type{
		"":      dnsmessage.TypeA,
		"A":     dnsmessage.TypeA,
		"a":     dnsmessage.TypeA,
		"AAAA":  dnsmessage.TypeAAAA,
		"cname": dnsmessage.TypeCNAME,
		"MX":    dnsmessage.TypeMX,
		"txt":   dnsmessage.TypeTXT,
		"NS":    dnsmessage.TypeNS,
	}
	for input, want := range cases {
		got, err := parseRecordType(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := parseRecordType("SRV")
	assert.Error(t, err)
}

func TestParseResponse(t *testing.T) {
	name := dnsmessage.MustNewName("example.com.")
	msg := dnsmessage.Message{
		Header: dnsmessage.Header{Response: true},
		Questions: []dnsmessage.Question{
			{Name: name, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET},
		},
		Answers: []dnsmessage.Resource{
			{
				Header: dnsmessage.ResourceHeader{Name: name, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET},
				Body:   &dnsmessage.AResource{A: [4]byte{93, 184, 216, 34}},
			},
		},
	}
	raw, err := msg.Pack()
	require.NoError(t, err)

	result, err := parseResponse(raw, dnsmessage.TypeA, 3*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{"93.184.216.34"}, result.Records)
	assert.Equal(t, 3*time.Millisecond, result.QueryTime)
}

func TestParseResponseServFail(t *testing.T) {
	msg := dnsmessage.Message{
		Header: dnsmessage.Header{Response: true, RCode: dnsmessage.RCodeServerFailure},
	}
	raw, err := msg.Pack()
	require.NoError(t, err)

	_, err = parseResponse(raw, dnsmessage.TypeA, 0)
	assert.Error(t, err)
}

func TestParseResponseNoAnswers(t *testing.T) {
	msg := dnsmessage.Message{Header: dnsmessage.Header{Response: true}}
	raw, err := msg.Pack()
	require.NoError(t, err)

	_, err = parseResponse(raw, dnsmessage.TypeA, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no")
}

func TestLookupDoH(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "example.com", r.URL.Query().Get("name"))
		assert.Equal(t, "A", r.URL.Query().Get("type"))
		assert.Equal(t, "application/dns-json", r.Header.Get("Accept"))
		w.Write([]byte(`{"Status":0,"Answer":[{"name":"example.com","type":1,"data":"93.184.216.34"}]}`))
	}))
	defer srv.Close()

	r := NewResolver(srv.URL, TransportDoH)
	result, err := r.Lookup(context.Background(), "example.com", "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"93.184.216.34"}, result.Records)
}

func TestLookupDoHNXDomain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Status":3,"Answer":[]}`))
	}))
	defer srv.Close()

	r := NewResolver(srv.URL, TransportDoH)
	_, err := r.Lookup(context.Background(), "nope.invalid", "A")
	assert.Error(t, err)
}

func TestLookupRejectsUnknownType(t *testing.T) {
	r := NewResolver("8.8.8.8:53", TransportUDP)
	_, err := r.Lookup(context.Background(), "example.com", "SRV")
	assert.Error(t, err)
}
