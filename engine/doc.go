// Package engine
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package engine implements the multiplexed rendezvous transport on top of
// api.HardwarePort.
//
// A Runtime owns the opened devices. Each Device owns exactly one hardware
// Port, and each Port multiplexes any number of Outputs and Inputs, addressed
// by a per-direction mux id. A transfer is a rendezvous:
//
//	sender                          receiver
//	Output.SendRequest  -- code 0 -->  Input notified (SignalSendIntent)
//	                                   Input.PostBuffer
//	Output notified     <-- code 1 --  (SignalCreditGranted)
//	Output.SendBuffer   == data ===>   Input notified (SignalDataReceived)
//
// Hardware progress is observed only through Runtime.Pump, which the caller
// drives. Every completion is reported through the injected api.Notifier.
package engine
