// Package memlock pins address ranges into RAM for the software NIC so that
// registration behaves like a real DMA pin.
package memlock
