package models

import (
	"encoding/json"
	"fmt"

	"sentinel/internal/check"
)

// Spec materializes the wire form of a stored check: the typed parameter
// block is deserialized from the Params column into the slot matching Type.
func (d *CheckDefinition) Spec() (check.Spec, error) {
	spec := check.Spec{
		ID:       d.ID,
		Name:     d.Name,
		Type:     check.Type(d.Type),
		Interval: d.Interval,
		Timeout:  d.Timeout,
	}

	var err error
	switch spec.Type {
	case check.TypeHTTP:
		spec.HTTP = &check.HTTPParams{}
		err = json.Unmarshal([]byte(d.Params), spec.HTTP)
	case check.TypeTCP:
		spec.TCP = &check.TCPParams{}
		err = json.Unmarshal([]byte(d.Params), spec.TCP)
	case check.TypeDNS:
		spec.DNS = &check.DNSParams{}
		err = json.Unmarshal([]byte(d.Params), spec.DNS)
	case check.TypePing:
		spec.Ping = &check.PingParams{}
		err = json.Unmarshal([]byte(d.Params), spec.Ping)
	case check.TypeSMTP:
		spec.SMTP = &check.SMTPParams{}
		err = json.Unmarshal([]byte(d.Params), spec.SMTP)
	case check.TypeRabbitMQ:
		spec.RabbitMQ = &check.RabbitMQParams{}
		err = json.Unmarshal([]byte(d.Params), spec.RabbitMQ)
	default:
		return spec, fmt.Errorf("unsupported check type: %s", d.Type)
	}
	if err != nil {
		return spec, fmt.Errorf("failed to decode params for check %d: %w", d.ID, err)
	}
	return spec, nil
}

// SetParams serializes a spec's typed parameter block into the Params column.
func (d *CheckDefinition) SetParams(spec check.Spec) error {
	var block any
	switch spec.Type {
	case check.TypeHTTP:
		block = spec.HTTP
	case check.TypeTCP:
		block = spec.TCP
	case check.TypeDNS:
		block = spec.DNS
	case check.TypePing:
		block = spec.Ping
	case check.TypeSMTP:
		block = spec.SMTP
	case check.TypeRabbitMQ:
		block = spec.RabbitMQ
	default:
		return fmt.Errorf("unsupported check type: %s", spec.Type)
	}
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	d.Params = string(data)
	return nil
}

// Target is the human-facing endpoint string for alert messages.
func (d *CheckDefinition) Target() string {
	spec, err := d.Spec()
	if err != nil {
		return ""
	}
	switch spec.Type {
	case check.TypeHTTP:
		return spec.HTTP.URL
	case check.TypeTCP:
		return fmt.Sprintf("%s:%d", spec.TCP.IP, spec.TCP.Port)
	case check.TypeDNS:
		return spec.DNS.Name
	case check.TypePing:
		return spec.Ping.Host
	case check.TypeSMTP:
		return fmt.Sprintf("%s:%d", spec.SMTP.Host, spec.SMTP.Port)
	case check.TypeRabbitMQ:
		return fmt.Sprintf("%s:%d", spec.RabbitMQ.Host, spec.RabbitMQ.Port)
	}
	return ""
}
