package transformheaders

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/IBM/sarama"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
)

// KafkaHeaders adapts a Kafka record header list. Record headers cannot be
// replaced in place, so Set and Add both append a header.
type KafkaHeaders struct {
	records *[]sarama.RecordHeader
}

// NewKafkaHeaders wraps records. The slice is mutated in place.
func NewKafkaHeaders(records *[]sarama.RecordHeader) *KafkaHeaders {
	return &KafkaHeaders{records: records}
}

func (k *KafkaHeaders) Set(name, value string) error {
	return k.Add(name, value)
}

func (k *KafkaHeaders) Add(name, value string) error {
	if name == "" {
		return &MutationError{Header: name, Reason: "empty record header key"}
	}
	*k.records = append(*k.records, sarama.RecordHeader{Key: []byte(name), Value: []byte(value)})
	return nil
}

func (k *KafkaHeaders) Remove(name string) {
	kept := (*k.records)[:0]
	for _, h := range *k.records {
		if !strings.EqualFold(string(h.Key), name) {
			kept = append(kept, h)
		}
	}
	*k.records = kept
}

func (k *KafkaHeaders) Names() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, h := range *k.records {
		key := string(h.Key)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, key)
	}
	return names
}

func (k *KafkaHeaders) Contains(name string) bool {
	for _, h := range *k.records {
		if strings.EqualFold(string(h.Key), name) {
			return true
		}
	}
	return false
}

func (k *KafkaHeaders) Values(name string) []string {
	var values []string
	for _, h := range *k.records {
		if strings.EqualFold(string(h.Key), name) {
			values = append(values, string(h.Value))
		}
	}
	return values
}

// KafkaFailure is returned for interrupted Kafka records. Code is the protocol
// error reported to the client.
type KafkaFailure struct {
	Code    sarama.KError
	Failure *Failure
}

func (f *KafkaFailure) Error() string {
	return fmt.Sprintf("%v (%s)", f.Failure, f.Code.Error())
}

func (f *KafkaFailure) Unwrap() []error {
	return []error{f.Failure, f.Code}
}

// kafkaRecord exposes a producer record as a Message
type kafkaRecord struct {
	msg *sarama.ProducerMessage
}

func (r *kafkaRecord) ID() string {
	return encoded(r.msg.Key)
}

func (r *kafkaRecord) Headers() Headers {
	return NewKafkaHeaders(&r.msg.Headers)
}

func (r *kafkaRecord) Content() []byte {
	if r.msg.Value == nil {
		return nil
	}
	b, err := r.msg.Value.Encode()
	if err != nil {
		return nil
	}
	return b
}

func (r *kafkaRecord) Attributes() map[string]string {
	return map[string]string{
		"topic":     r.msg.Topic,
		"partition": strconv.FormatInt(int64(r.msg.Partition), 10),
	}
}

func encoded(e sarama.Encoder) string {
	if e == nil {
		return ""
	}
	b, err := e.Encode()
	if err != nil {
		return ""
	}
	return string(b)
}

// OnKafkaRecord transforms the headers of a record before it is produced
func (p *Policy) OnKafkaRecord(ctx context.Context, msg *sarama.ProducerMessage, opts ...MessageOption) error {
	if err := p.OnMessage(ctx, &kafkaRecord{msg: msg}, opts...); err != nil {
		return kafkaFailure(err)
	}
	return nil
}

// OnKafkaMessage transforms the headers of a consumed record
func (p *Policy) OnKafkaMessage(ctx context.Context, msg *sarama.ConsumerMessage, opts ...MessageOption) error {
	records := make([]sarama.RecordHeader, 0, len(msg.Headers))
	for _, h := range msg.Headers {
		if h != nil {
			records = append(records, *h)
		}
	}
	consumed := &kafkaConsumed{msg: msg, records: &records}
	if err := p.OnMessage(ctx, consumed, opts...); err != nil {
		return kafkaFailure(err)
	}
	msg.Headers = make([]*sarama.RecordHeader, len(records))
	for i := range records {
		msg.Headers[i] = &records[i]
	}
	return nil
}

func kafkaFailure(err error) error {
	f, ok := err.(*Failure)
	if !ok {
		f = newFailure(messageFailureMessage, nil, err)
	}
	return &KafkaFailure{Code: sarama.ErrInvalidRecord, Failure: f}
}

type kafkaConsumed struct {
	msg     *sarama.ConsumerMessage
	records *[]sarama.RecordHeader
}

func (c *kafkaConsumed) ID() string { return string(c.msg.Key) }

func (c *kafkaConsumed) Headers() Headers { return NewKafkaHeaders(c.records) }

func (c *kafkaConsumed) Content() []byte { return c.msg.Value }

func (c *kafkaConsumed) Attributes() map[string]string {
	return map[string]string{
		"topic":     c.msg.Topic,
		"partition": strconv.FormatInt(int64(c.msg.Partition), 10),
		"offset":    strconv.FormatInt(c.msg.Offset, 10),
	}
}

// AMQPHeaders adapts an AMQP header table. Appending to a header turns its
// value into a field array.
type AMQPHeaders struct {
	table *amqp.Table
}

// NewAMQPHeaders wraps table, allocating it when nil
func NewAMQPHeaders(table *amqp.Table) *AMQPHeaders {
	if *table == nil {
		*table = amqp.Table{}
	}
	return &AMQPHeaders{table: table}
}

func (a *AMQPHeaders) Set(name, value string) error {
	if err := validateAMQPField(name, value); err != nil {
		return err
	}
	a.Remove(name)
	(*a.table)[name] = value
	return nil
}

func (a *AMQPHeaders) Add(name, value string) error {
	if err := validateAMQPField(name, value); err != nil {
		return err
	}
	key, ok := a.lookup(name)
	if !ok {
		(*a.table)[name] = value
		return nil
	}
	switch existing := (*a.table)[key].(type) {
	case []interface{}:
		(*a.table)[key] = append(existing, value)
	default:
		(*a.table)[key] = []interface{}{existing, value}
	}
	return nil
}

func (a *AMQPHeaders) Remove(name string) {
	for key := range *a.table {
		if strings.EqualFold(key, name) {
			delete(*a.table, key)
		}
	}
}

func (a *AMQPHeaders) Names() []string {
	return sortedKeys(*a.table)
}

func (a *AMQPHeaders) Contains(name string) bool {
	_, ok := a.lookup(name)
	return ok
}

func (a *AMQPHeaders) Values(name string) []string {
	key, ok := a.lookup(name)
	if !ok {
		return nil
	}
	switch v := (*a.table)[key].(type) {
	case []interface{}:
		values := make([]string, len(v))
		for i, item := range v {
			values[i] = fmt.Sprint(item)
		}
		return values
	case []byte:
		return []string{string(v)}
	default:
		return []string{fmt.Sprint(v)}
	}
}

func (a *AMQPHeaders) lookup(name string) (string, bool) {
	if _, ok := (*a.table)[name]; ok {
		return name, true
	}
	for key := range *a.table {
		if strings.EqualFold(key, name) {
			return key, true
		}
	}
	return "", false
}

func validateAMQPField(name, value string) error {
	// field names are short strings
	if name == "" || len(name) > 255 {
		return &MutationError{Header: name, Reason: "invalid field name length"}
	}
	if err := (amqp.Table{name: value}).Validate(); err != nil {
		return &MutationError{Header: name, Reason: "invalid field value", Err: err}
	}
	return nil
}

// AMQPDelivery exposes a consumed AMQP delivery as a Message
type AMQPDelivery struct {
	Delivery *amqp.Delivery
}

func (d AMQPDelivery) ID() string { return d.Delivery.MessageId }

func (d AMQPDelivery) Headers() Headers { return NewAMQPHeaders(&d.Delivery.Headers) }

func (d AMQPDelivery) Content() []byte { return d.Delivery.Body }

func (d AMQPDelivery) Attributes() map[string]string {
	return map[string]string{
		"exchange":    d.Delivery.Exchange,
		"routingKey":  d.Delivery.RoutingKey,
		"contentType": d.Delivery.ContentType,
	}
}

// AMQPPublishing exposes an outgoing AMQP publishing as a Message
type AMQPPublishing struct {
	Publishing *amqp.Publishing
}

func (p AMQPPublishing) ID() string { return p.Publishing.MessageId }

func (p AMQPPublishing) Headers() Headers { return NewAMQPHeaders(&p.Publishing.Headers) }

func (p AMQPPublishing) Content() []byte { return p.Publishing.Body }

func (p AMQPPublishing) Attributes() map[string]string {
	return map[string]string{"contentType": p.Publishing.ContentType}
}

// NATSHeaders adapts NATS message headers
type NATSHeaders struct {
	msg *nats.Msg
}

// NewNATSHeaders wraps the headers of msg, allocating them when nil
func NewNATSHeaders(msg *nats.Msg) *NATSHeaders {
	if msg.Header == nil {
		msg.Header = nats.Header{}
	}
	return &NATSHeaders{msg: msg}
}

func (n *NATSHeaders) Set(name, value string) error {
	if err := validateHTTPField(name, value); err != nil {
		return err
	}
	n.Remove(name)
	n.msg.Header[name] = []string{value}
	return nil
}

func (n *NATSHeaders) Add(name, value string) error {
	if err := validateHTTPField(name, value); err != nil {
		return err
	}
	key := name
	for existing := range n.msg.Header {
		if strings.EqualFold(existing, name) {
			key = existing
			break
		}
	}
	n.msg.Header[key] = append(n.msg.Header[key], value)
	return nil
}

func (n *NATSHeaders) Remove(name string) {
	for key := range n.msg.Header {
		if strings.EqualFold(key, name) {
			delete(n.msg.Header, key)
		}
	}
}

func (n *NATSHeaders) Names() []string {
	return sortedKeys(n.msg.Header)
}

func (n *NATSHeaders) Contains(name string) bool {
	for key := range n.msg.Header {
		if strings.EqualFold(key, name) {
			return true
		}
	}
	return false
}

func (n *NATSHeaders) Values(name string) []string {
	var values []string
	for key, v := range n.msg.Header {
		if strings.EqualFold(key, name) {
			values = append(values, v...)
		}
	}
	return values
}

// NATSMessage exposes a NATS message as a Message
type NATSMessage struct {
	Msg *nats.Msg
}

func (m NATSMessage) ID() string {
	if m.Msg.Header == nil {
		return ""
	}
	return m.Msg.Header.Get(nats.MsgIdHdr)
}

func (m NATSMessage) Headers() Headers { return NewNATSHeaders(m.Msg) }

func (m NATSMessage) Content() []byte { return m.Msg.Data }

func (m NATSMessage) Attributes() map[string]string {
	return map[string]string{"subject": m.Msg.Subject, "reply": m.Msg.Reply}
}
