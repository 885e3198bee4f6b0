package sv2

// Extension messages delivered on the mining connection in the reserved
// 0xC0-0xFF range. They ride the same framing as the core mining
// messages; unknown types in the range are dropped by receivers rather
// than tearing down the connection.

// MintQuoteNotification tells a downstream that a quote was issued for
// one of its accepted shares
type MintQuoteNotification struct {
	ChannelID      uint32
	SequenceNumber uint32
	ShareHash      [32]byte
	QuoteID        string
	Amount         uint64
}

// Marshal serializes the notification payload
func (m *MintQuoteNotification) Marshal() ([]byte, error) {
	w := &writer{}
	w.u32(m.ChannelID)
	w.u32(m.SequenceNumber)
	w.bytes(m.ShareHash[:])
	if err := w.str255(m.QuoteID); err != nil {
		return nil, err
	}
	w.u64(m.Amount)
	return w.buf, nil
}

// Frame wraps the notification in a channel-scoped mining frame
func (m *MintQuoteNotification) Frame() (*Frame, error) {
	payload, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return &Frame{
		ExtensionType: ExtTypeMining | ChannelBit,
		MsgType:       MsgTypeMintQuoteNotification,
		Payload:       payload,
	}, nil
}

// UnmarshalMintQuoteNotification decodes a notification payload
func UnmarshalMintQuoteNotification(payload []byte) (*MintQuoteNotification, error) {
	r := newReader(payload, "decode_mint_quote_notification")
	m := &MintQuoteNotification{}

	var err error
	if m.ChannelID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.SequenceNumber, err = r.u32(); err != nil {
		return nil, err
	}
	hash, err := r.bytes(32)
	if err != nil {
		return nil, err
	}
	copy(m.ShareHash[:], hash)
	if m.QuoteID, err = r.str255(); err != nil {
		return nil, err
	}
	if m.Amount, err = r.u64(); err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return m, nil
}

// MintQuoteFailure tells a downstream that no quote will arrive for a
// share it already had accepted
type MintQuoteFailure struct {
	ChannelID      uint32
	SequenceNumber uint32
	ShareHash      [32]byte
	ErrorMessage   string
}

// Marshal serializes the failure payload
func (m *MintQuoteFailure) Marshal() ([]byte, error) {
	w := &writer{}
	w.u32(m.ChannelID)
	w.u32(m.SequenceNumber)
	w.bytes(m.ShareHash[:])
	if err := w.str255(m.ErrorMessage); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// Frame wraps the failure in a channel-scoped mining frame
func (m *MintQuoteFailure) Frame() (*Frame, error) {
	payload, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return &Frame{
		ExtensionType: ExtTypeMining | ChannelBit,
		MsgType:       MsgTypeMintQuoteFailure,
		Payload:       payload,
	}, nil
}

// UnmarshalMintQuoteFailure decodes a failure payload
func UnmarshalMintQuoteFailure(payload []byte) (*MintQuoteFailure, error) {
	r := newReader(payload, "decode_mint_quote_failure")
	m := &MintQuoteFailure{}

	var err error
	if m.ChannelID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.SequenceNumber, err = r.u32(); err != nil {
		return nil, err
	}
	hash, err := r.bytes(32)
	if err != nil {
		return nil, err
	}
	copy(m.ShareHash[:], hash)
	if m.ErrorMessage, err = r.str255(); err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return m, nil
}
