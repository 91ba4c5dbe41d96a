// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the in-band flow-control packet exchanged between endpoints
// multiplexed over one hardware port.
//
// A rendezvous runs in two packets:
//   - the output sends CodeSendIntent to the peer input
//   - the input posts a buffer and answers with CodeCreditGrant
//
// after which the output may issue exactly one bulk transfer. The mux carried
// in a packet is the endpoint index on the receiving port.
package protocol
