package keymesh

// PutBuilder configures a one-shot publication. Obtained from Session.Put;
// finished with Do.
type PutBuilder struct {
	session    *Session
	key        string
	payload    []byte
	encoding   Encoding
	attachment []byte
	qos        QoS
}

// Encoding sets the payload encoding.
func (b *PutBuilder) Encoding(enc Encoding) *PutBuilder {
	b.encoding = enc
	return b
}

// Attachment attaches out-of-band metadata.
func (b *PutBuilder) Attachment(att []byte) *PutBuilder {
	b.attachment = att
	return b
}

// Priority sets the publication priority.
func (b *PutBuilder) Priority(p Priority) *PutBuilder {
	b.qos.Priority = p
	return b
}

// CongestionControl sets the behavior against full subscriber queues.
func (b *PutBuilder) CongestionControl(cc CongestionControl) *PutBuilder {
	b.qos.CongestionControl = cc
	return b
}

// Express marks the publication for minimal batching delay.
func (b *PutBuilder) Express(express bool) *PutBuilder {
	b.qos.Express = express
	return b
}

// Do publishes the payload on the key.
func (b *PutBuilder) Do() error {
	h, err := b.session.handle()
	if err != nil {
		return err
	}
	return b.session.eng.Put(h, b.key, b.payload, string(b.encoding), b.attachment, b.qos.toRuntime())
}

// DeleteBuilder configures a one-shot deletion. Obtained from
// Session.Delete; finished with Do.
type DeleteBuilder struct {
	session    *Session
	key        string
	attachment []byte
	qos        QoS
}

// Attachment attaches out-of-band metadata.
func (b *DeleteBuilder) Attachment(att []byte) *DeleteBuilder {
	b.attachment = att
	return b
}

// Priority sets the deletion priority.
func (b *DeleteBuilder) Priority(p Priority) *DeleteBuilder {
	b.qos.Priority = p
	return b
}

// CongestionControl sets the behavior against full subscriber queues.
func (b *DeleteBuilder) CongestionControl(cc CongestionControl) *DeleteBuilder {
	b.qos.CongestionControl = cc
	return b
}

// Do publishes the deletion on the key.
func (b *DeleteBuilder) Do() error {
	h, err := b.session.handle()
	if err != nil {
		return err
	}
	return b.session.eng.Delete(h, b.key, b.attachment, b.qos.toRuntime())
}
