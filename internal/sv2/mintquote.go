package sv2

// Mint-quote sub-protocol messages carried on the pool-to-mint link.
// share_hash is the sole correlation key on this link; responses are
// matched to requests by hash, never by arrival order.

// MintQuoteRequest asks the mint to issue a quote for one accepted share
type MintQuoteRequest struct {
	Amount        uint64
	Unit          string
	ShareHash     [32]byte
	LockingPubKey [33]byte
	// KeysetID is optional; nil lets the mint pick its active keyset
	KeysetID *[8]byte
}

// Marshal serializes the request payload
func (m *MintQuoteRequest) Marshal() ([]byte, error) {
	w := &writer{}
	w.u64(m.Amount)
	if err := w.str255(m.Unit); err != nil {
		return nil, err
	}
	w.bytes(m.ShareHash[:])
	w.bytes(m.LockingPubKey[:])
	if m.KeysetID != nil {
		w.optBytes(m.KeysetID[:])
	} else {
		w.optBytes(nil)
	}
	return w.buf, nil
}

// Frame wraps the request in a connection-scoped mint-quote frame
func (m *MintQuoteRequest) Frame() (*Frame, error) {
	payload, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return &Frame{ExtensionType: ExtTypeMintQuote, MsgType: MsgTypeMintQuoteRequest, Payload: payload}, nil
}

// UnmarshalMintQuoteRequest decodes a request payload
func UnmarshalMintQuoteRequest(payload []byte) (*MintQuoteRequest, error) {
	r := newReader(payload, "decode_mint_quote_request")
	m := &MintQuoteRequest{}

	var err error
	if m.Amount, err = r.u64(); err != nil {
		return nil, err
	}
	if m.Unit, err = r.str255(); err != nil {
		return nil, err
	}
	hash, err := r.bytes(32)
	if err != nil {
		return nil, err
	}
	copy(m.ShareHash[:], hash)
	key, err := r.bytes(33)
	if err != nil {
		return nil, err
	}
	copy(m.LockingPubKey[:], key)
	keyset, err := r.optBytes(8)
	if err != nil {
		return nil, err
	}
	if keyset != nil {
		var id [8]byte
		copy(id[:], keyset)
		m.KeysetID = &id
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return m, nil
}

// MintQuoteResponse carries an issued quote back to the pool
type MintQuoteResponse struct {
	ShareHash [32]byte
	QuoteID   string
	Amount    uint64
	KeysetID  [8]byte
	ExpiresAt *uint64
}

// Marshal serializes the response payload
func (m *MintQuoteResponse) Marshal() ([]byte, error) {
	w := &writer{}
	w.bytes(m.ShareHash[:])
	if err := w.str255(m.QuoteID); err != nil {
		return nil, err
	}
	w.u64(m.Amount)
	w.bytes(m.KeysetID[:])
	w.optU64(m.ExpiresAt)
	return w.buf, nil
}

// Frame wraps the response in a connection-scoped mint-quote frame
func (m *MintQuoteResponse) Frame() (*Frame, error) {
	payload, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return &Frame{ExtensionType: ExtTypeMintQuote, MsgType: MsgTypeMintQuoteResponse, Payload: payload}, nil
}

// UnmarshalMintQuoteResponse decodes a response payload
func UnmarshalMintQuoteResponse(payload []byte) (*MintQuoteResponse, error) {
	r := newReader(payload, "decode_mint_quote_response")
	m := &MintQuoteResponse{}

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
	keyset, err := r.bytes(8)
	if err != nil {
		return nil, err
	}
	copy(m.KeysetID[:], keyset)
	if m.ExpiresAt, err = r.optU64(); err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return m, nil
}

// MintQuoteError reports a quote the mint refused to issue
type MintQuoteError struct {
	ShareHash [32]byte
	Code      uint16
	Message   string
}

// Marshal serializes the error payload
func (m *MintQuoteError) Marshal() ([]byte, error) {
	w := &writer{}
	w.bytes(m.ShareHash[:])
	w.u16(m.Code)
	if err := w.str255(m.Message); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// Frame wraps the error in a connection-scoped mint-quote frame
func (m *MintQuoteError) Frame() (*Frame, error) {
	payload, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return &Frame{ExtensionType: ExtTypeMintQuote, MsgType: MsgTypeMintQuoteError, Payload: payload}, nil
}

// UnmarshalMintQuoteError decodes an error payload
func UnmarshalMintQuoteError(payload []byte) (*MintQuoteError, error) {
	r := newReader(payload, "decode_mint_quote_error")
	m := &MintQuoteError{}

	hash, err := r.bytes(32)
	if err != nil {
		return nil, err
	}
	copy(m.ShareHash[:], hash)
	if m.Code, err = r.u16(); err != nil {
		return nil, err
	}
	if m.Message, err = r.str255(); err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return m, nil
}
