package warehouse

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	streamdriver "github.com/supalytics/streamgate/driver"
	"github.com/supalytics/streamgate/logging"
	"github.com/supalytics/streamgate/wire"
)

// BackendType is the ConnectorConfig.type tag this package registers under.
const BackendType = "warehouse"

// pollInterval bounds how often a poll-based driver checks job status:
// kept under a second to keep cancellation latency small.
const pollInterval = 500 * time.Millisecond

// Register adds the warehouse factory to reg, logging through log.
func Register(reg *streamdriver.Registry, log logging.Func) {
	if log == nil {
		log = logging.Discard
	}
	reg.Register(BackendType, func(blob map[string]any) (streamdriver.Driver, error) {
		cfg, err := parseConfig(blob)
		if err != nil {
			return nil, err
		}
		return &Driver{cfg: cfg, log: log}, nil
	})
}

// Driver is a job-based BigQuery driver: Query submits the statement as a
// job and returns a RowStream that polls for job completion before paging
// through results.
type Driver struct {
	cfg    Config
	log    logging.Func
	client *bigquery.Client
}

// Connect builds the BigQuery client from the configured credentials.
func (d *Driver) Connect(ctx context.Context) error {
	var opts []option.ClientOption
	if len(d.cfg.CredentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(d.cfg.CredentialsJSON))
	} else {
		opts = append(opts, option.WithCredentialsFile(d.cfg.KeyFilePath))
	}

	client, err := bigquery.NewClient(ctx, d.cfg.ProjectID, opts...)
	if err != nil {
		return fmt.Errorf("warehouse: connect: %w", err)
	}
	if d.cfg.Location != "" {
		client.Location = d.cfg.Location
	}

	d.client = client
	return nil
}

// Query submits sqlText as a BigQuery job and returns a RowStream that
// polls until the job reaches a terminal state, then pages through results.
func (d *Driver) Query(ctx context.Context, sqlText string) (streamdriver.RowStream, error) {
	q := d.client.Query(sqlText)
	q.DefaultDatasetID = d.cfg.Dataset
	if d.cfg.MaxBillingTier > 0 {
		tier := d.cfg.MaxBillingTier
		q.MaxBillingTier = &tier
	}

	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("warehouse: submit job: %w", err)
	}

	return func(ctx context.Context, consume streamdriver.Consumer) error {
		if err := d.awaitTerminal(ctx, job); err != nil {
			return err
		}

		it, err := job.Read(ctx)
		if err != nil {
			return fmt.Errorf("warehouse: read results: %w", err)
		}

		return drain(it, consume)
	}, nil
}

// awaitTerminal polls job.Status on pollInterval until the job is done or
// ctx is cancelled, never sleeping longer than pollInterval between checks
// so cancellation latency stays bounded.
func (d *Driver) awaitTerminal(ctx context.Context, job *bigquery.Job) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := job.Status(ctx)
		if err != nil {
			return fmt.Errorf("warehouse: poll status: %w", err)
		}
		if status.Done() {
			if err := status.Err(); err != nil {
				return fmt.Errorf("warehouse: job failed: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func drain(it *bigquery.RowIterator, consume streamdriver.Consumer) (err error) {
	cols := make([]string, len(it.Schema))
	for i, f := range it.Schema {
		cols[i] = f.Name
	}
	if err := consume(cols, nil); err != nil {
		if errors.Is(err, streamdriver.ErrConsumerDone) {
			return nil
		}
		return err
	}

	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("warehouse: iterate rows: %w", err)
		}

		values := make([]wire.Value, len(row))
		for i, v := range row {
			values[i] = decode(v)
		}

		if err := consume(nil, values); err != nil {
			if errors.Is(err, streamdriver.ErrConsumerDone) {
				return nil
			}
			return err
		}
	}
}

func decode(v bigquery.Value) wire.Value {
	if v == nil {
		return wire.Null
	}
	switch t := v.(type) {
	case int64:
		return wire.NewInt64(t)
	case float64:
		return wire.NewFloat64(t)
	case bool:
		return wire.NewBool(t)
	case string:
		return wire.NewString(t)
	case []byte:
		return wire.NewBytes(t)
	case time.Time:
		return wire.NewInstant(t)
	case civil.Date:
		return wire.NewDate(t.Year, int(t.Month), t.Day)
	case *big.Rat:
		f, _ := t.Float64()
		return wire.NewFloat64(f)
	default:
		return wire.NewString(fmt.Sprintf("%v", t))
	}
}

// Close releases the BigQuery client. Idempotent.
func (d *Driver) Close() error {
	if d.client == nil {
		return nil
	}
	client := d.client
	d.client = nil
	return client.Close()
}
