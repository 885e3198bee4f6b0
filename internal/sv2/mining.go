package sv2

import "math"

// Minimal mining sub-protocol messages. Hashpool does not alter the
// upstream wire layout except for SubmitSharesExtended, which carries
// two appended fields (hash, locking_pubkey) as a deployment-wide
// schema extension.

// OpenExtendedMiningChannel requests an extended channel on the
// upstream connection
type OpenExtendedMiningChannel struct {
	RequestID         uint32
	UserIdentity      string
	NominalHashRate   float32
	MinExtranonceSize uint16
}

// Marshal serializes the payload
func (m *OpenExtendedMiningChannel) Marshal() ([]byte, error) {
	w := &writer{}
	w.u32(m.RequestID)
	if err := w.str255(m.UserIdentity); err != nil {
		return nil, err
	}
	w.u32(math.Float32bits(m.NominalHashRate))
	w.u16(m.MinExtranonceSize)
	return w.buf, nil
}

// Frame wraps the message in a mining frame
func (m *OpenExtendedMiningChannel) Frame() (*Frame, error) {
	payload, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return &Frame{ExtensionType: ExtTypeMining, MsgType: MsgTypeOpenExtendedMiningChannel, Payload: payload}, nil
}

// UnmarshalOpenExtendedMiningChannel decodes the payload
func UnmarshalOpenExtendedMiningChannel(payload []byte) (*OpenExtendedMiningChannel, error) {
	r := newReader(payload, "decode_open_extended_mining_channel")
	m := &OpenExtendedMiningChannel{}

	var err error
	if m.RequestID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.UserIdentity, err = r.str255(); err != nil {
		return nil, err
	}
	bits, err := r.u32()
	if err != nil {
		return nil, err
	}
	m.NominalHashRate = math.Float32frombits(bits)
	if m.MinExtranonceSize, err = r.u16(); err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return m, nil
}

// OpenExtendedMiningChannelSuccess confirms a channel and assigns its id
type OpenExtendedMiningChannelSuccess struct {
	RequestID        uint32
	ChannelID        uint32
	Target           [32]byte
	ExtranonceSize   uint16
	ExtranoncePrefix []byte
}

// Marshal serializes the payload
func (m *OpenExtendedMiningChannelSuccess) Marshal() ([]byte, error) {
	w := &writer{}
	w.u32(m.RequestID)
	w.u32(m.ChannelID)
	w.bytes(m.Target[:])
	w.u16(m.ExtranonceSize)
	if err := w.b0255(m.ExtranoncePrefix); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// Frame wraps the message in a channel-scoped mining frame
func (m *OpenExtendedMiningChannelSuccess) Frame() (*Frame, error) {
	payload, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return &Frame{
		ExtensionType: ExtTypeMining | ChannelBit,
		MsgType:       MsgTypeOpenExtendedMiningChannelSuccess,
		Payload:       payload,
	}, nil
}

// UnmarshalOpenExtendedMiningChannelSuccess decodes the payload
func UnmarshalOpenExtendedMiningChannelSuccess(payload []byte) (*OpenExtendedMiningChannelSuccess, error) {
	r := newReader(payload, "decode_open_extended_mining_channel_success")
	m := &OpenExtendedMiningChannelSuccess{}

	var err error
	if m.RequestID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.ChannelID, err = r.u32(); err != nil {
		return nil, err
	}
	target, err := r.bytes(32)
	if err != nil {
		return nil, err
	}
	copy(m.Target[:], target)
	if m.ExtranonceSize, err = r.u16(); err != nil {
		return nil, err
	}
	if m.ExtranoncePrefix, err = r.b0255(); err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return m, nil
}

// SubmitSharesExtended is an extended share submission. Hash and
// LockingPubKey are the appended schema-extension fields: the 32-byte
// share header hash and the miner proxy's 33-byte compressed NUT-20
// locking key.
type SubmitSharesExtended struct {
	ChannelID      uint32
	SequenceNumber uint32
	JobID          uint32
	Nonce          uint32
	NTime          uint32
	Version        uint32
	Extranonce     []byte
	Hash           [32]byte
	LockingPubKey  [33]byte
}

// Marshal serializes the payload
func (m *SubmitSharesExtended) Marshal() ([]byte, error) {
	w := &writer{}
	w.u32(m.ChannelID)
	w.u32(m.SequenceNumber)
	w.u32(m.JobID)
	w.u32(m.Nonce)
	w.u32(m.NTime)
	w.u32(m.Version)
	if err := w.b0255(m.Extranonce); err != nil {
		return nil, err
	}
	w.bytes(m.Hash[:])
	w.bytes(m.LockingPubKey[:])
	return w.buf, nil
}

// Frame wraps the message in a channel-scoped mining frame
func (m *SubmitSharesExtended) Frame() (*Frame, error) {
	payload, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return &Frame{
		ExtensionType: ExtTypeMining | ChannelBit,
		MsgType:       MsgTypeSubmitSharesExtended,
		Payload:       payload,
	}, nil
}

// UnmarshalSubmitSharesExtended decodes the payload
func UnmarshalSubmitSharesExtended(payload []byte) (*SubmitSharesExtended, error) {
	r := newReader(payload, "decode_submit_shares_extended")
	m := &SubmitSharesExtended{}

	var err error
	if m.ChannelID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.SequenceNumber, err = r.u32(); err != nil {
		return nil, err
	}
	if m.JobID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.Nonce, err = r.u32(); err != nil {
		return nil, err
	}
	if m.NTime, err = r.u32(); err != nil {
		return nil, err
	}
	if m.Version, err = r.u32(); err != nil {
		return nil, err
	}
	if m.Extranonce, err = r.b0255(); err != nil {
		return nil, err
	}
	hash, err := r.bytes(32)
	if err != nil {
		return nil, err
	}
	copy(m.Hash[:], hash)
	key, err := r.bytes(33)
	if err != nil {
		return nil, err
	}
	copy(m.LockingPubKey[:], key)
	if err := r.done(); err != nil {
		return nil, err
	}
	return m, nil
}

// SubmitSharesSuccess acknowledges accepted shares. It is emitted
// immediately on validation, before any mint traffic.
type SubmitSharesSuccess struct {
	ChannelID               uint32
	LastSequenceNumber      uint32
	NewSubmitsAcceptedCount uint32
	NewSharesSum            uint64
}

// Marshal serializes the payload
func (m *SubmitSharesSuccess) Marshal() ([]byte, error) {
	w := &writer{}
	w.u32(m.ChannelID)
	w.u32(m.LastSequenceNumber)
	w.u32(m.NewSubmitsAcceptedCount)
	w.u64(m.NewSharesSum)
	return w.buf, nil
}

// Frame wraps the message in a channel-scoped mining frame
func (m *SubmitSharesSuccess) Frame() (*Frame, error) {
	payload, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return &Frame{
		ExtensionType: ExtTypeMining | ChannelBit,
		MsgType:       MsgTypeSubmitSharesSuccess,
		Payload:       payload,
	}, nil
}

// UnmarshalSubmitSharesSuccess decodes the payload
func UnmarshalSubmitSharesSuccess(payload []byte) (*SubmitSharesSuccess, error) {
	r := newReader(payload, "decode_submit_shares_success")
	m := &SubmitSharesSuccess{}

	var err error
	if m.ChannelID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.LastSequenceNumber, err = r.u32(); err != nil {
		return nil, err
	}
	if m.NewSubmitsAcceptedCount, err = r.u32(); err != nil {
		return nil, err
	}
	if m.NewSharesSum, err = r.u64(); err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return m, nil
}

// SubmitSharesError rejects a share submission
type SubmitSharesError struct {
	ChannelID      uint32
	SequenceNumber uint32
	ErrorCode      string
}

// Marshal serializes the payload
func (m *SubmitSharesError) Marshal() ([]byte, error) {
	w := &writer{}
	w.u32(m.ChannelID)
	w.u32(m.SequenceNumber)
	if err := w.str255(m.ErrorCode); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// Frame wraps the message in a channel-scoped mining frame
func (m *SubmitSharesError) Frame() (*Frame, error) {
	payload, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return &Frame{
		ExtensionType: ExtTypeMining | ChannelBit,
		MsgType:       MsgTypeSubmitSharesError,
		Payload:       payload,
	}, nil
}

// UnmarshalSubmitSharesError decodes the payload
func UnmarshalSubmitSharesError(payload []byte) (*SubmitSharesError, error) {
	r := newReader(payload, "decode_submit_shares_error")
	m := &SubmitSharesError{}

	var err error
	if m.ChannelID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.SequenceNumber, err = r.u32(); err != nil {
		return nil, err
	}
	if m.ErrorCode, err = r.str255(); err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return m, nil
}
