// Package pool
// Author: momentics <momentics@gmail.com>
//
// Page-aligned buffer pooling for DMA transfers.
// Buffers start on a page boundary, so a buffer of n bytes touches the
// fewest pages and therefore the fewest registration blocks. Freed buffers
// are kept per size class and handed out again, which keeps their pages hot
// in the registration cache.
package pool
