package fricon

import (
	"context"
	"errors"

	"github.com/apache/arrow-go/v18/arrow"
)

// BatchSource is the contract a transport layer drives: it decodes
// wire bytes into arrow.Record batches and feeds them to
// Manager.CreateDataset one at a time through Next. Next must return
// io.EOF on a clean end of stream; any other error is treated as a
// producer error and aborts the dataset.
type BatchSource interface {
	// Next blocks until the next batch is available, ctx is done, or
	// the stream ends. On a non-nil, non-io.EOF error the returned
	// record is ignored.
	Next(ctx context.Context) (arrow.Record, error)
}

// ErrProducerAbort is the sentinel a BatchSource returns from Next to
// signal the producer's explicit abort control message. The manager
// treats it identically to any other producer error: the dataset
// transitions to Aborted.
var ErrProducerAbort = errors.New("fricon: producer aborted the write")
