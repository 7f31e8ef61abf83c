package tpm2

import (
	"encoding/binary"
	"errors"
	"sync"
)

var errScriptExhausted = errors.New("mock: no more scripted responses")

// TPM 2.0 command codes, for asserting on captured command bytes.
const (
	ccStartup  uint32 = 0x0144
	ccShutdown uint32 = 0x0145
)

// rcResponse builds a minimal header-only TPM response with the given
// response code.
func rcResponse(rc uint32) []byte {
	rsp := make([]byte, 10)
	binary.BigEndian.PutUint16(rsp[0:2], 0x8001) // TPM_ST_NO_SESSIONS
	binary.BigEndian.PutUint32(rsp[2:6], 10)
	binary.BigEndian.PutUint32(rsp[6:10], rc)
	return rsp
}

// scriptedTransport implements transport.TPM, replaying a fixed response
// script and capturing every command sent. A nil response entry fails the
// Send with a transport error.
type scriptedTransport struct {
	mu        sync.Mutex
	responses [][]byte
	idx       int
	commands  [][]byte
	closed    bool
}

func newScriptedTransport(responses ...[]byte) *scriptedTransport {
	return &scriptedTransport{responses: responses}
}

func (s *scriptedTransport) Send(cmd []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commands = append(s.commands, append([]byte(nil), cmd...))
	if s.idx >= len(s.responses) {
		return nil, errScriptExhausted
	}
	rsp := s.responses[s.idx]
	s.idx++
	if rsp == nil {
		return nil, errors.New("mock: transport failure")
	}
	return rsp, nil
}

func (s *scriptedTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// sentCommandCodes extracts the command code of every captured command.
func (s *scriptedTransport) sentCommandCodes() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := make([]uint32, 0, len(s.commands))
	for _, cmd := range s.commands {
		if len(cmd) < 10 {
			continue
		}
		codes = append(codes, binary.BigEndian.Uint32(cmd[6:10]))
	}
	return codes
}
