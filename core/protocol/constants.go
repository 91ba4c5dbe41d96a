// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Control packet wire constants

package protocol

const (
	// PacketLen is the fixed size of a control packet.
	PacketLen = 8

	// Packet codes
	CodeSendIntent  Code = 0 // output announces it wants to send
	CodeCreditGrant Code = 1 // input grants one buffer of credit

	// Hardware receive tags
	TagData    = 0 // large data receive buffers
	TagControl = 1 // control packet receive buffers
)
