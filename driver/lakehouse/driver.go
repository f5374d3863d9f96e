package lakehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"

	streamdriver "github.com/supalytics/streamgate/driver"
	"github.com/supalytics/streamgate/logging"
	"github.com/supalytics/streamgate/wire"
)

// BackendType is the ConnectorConfig.type tag this package registers under.
const BackendType = "lakehouse"

// pollInterval bounds how often a poll-based driver checks execution
// status: kept under a second to keep cancellation latency small.
const pollInterval = 750 * time.Millisecond

// Register adds the lakehouse factory to reg, logging through log.
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

// Driver is a job-based Athena driver: Query starts a query execution and
// returns a RowStream that polls until the execution reaches a terminal
// state, then pages through GetQueryExecutionResults.
type Driver struct {
	cfg    Config
	log    logging.Func
	client *athena.Client
}

// Connect builds the Athena client from the configured region and
// credentials.
func (d *Driver) Connect(ctx context.Context) error {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(d.cfg.Region))

	if d.cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(d.cfg.AccessKeyID, d.cfg.SecretAccessKey, d.cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("lakehouse: connect: %w", err)
	}

	d.client = athena.NewFromConfig(awsCfg)
	return nil
}

// Query starts an Athena query execution and returns a RowStream that
// polls until the execution finishes, then pages through its results.
func (d *Driver) Query(ctx context.Context, sqlText string) (streamdriver.RowStream, error) {
	out, err := d.client.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: &sqlText,
		QueryExecutionContext: &types.QueryExecutionContext{
			Database: &d.cfg.Database,
			Catalog:  &d.cfg.Catalog,
		},
		ResultConfiguration: &types.ResultConfiguration{
			OutputLocation: &d.cfg.OutputLocation,
		},
		WorkGroup: &d.cfg.Workgroup,
	})
	if err != nil {
		return nil, fmt.Errorf("lakehouse: start query execution: %w", err)
	}

	executionID := *out.QueryExecutionId

	return func(ctx context.Context, consume streamdriver.Consumer) error {
		if err := d.awaitTerminal(ctx, executionID); err != nil {
			return err
		}
		return d.drain(ctx, executionID, consume)
	}, nil
}

// awaitTerminal polls GetQueryExecution on pollInterval until the execution
// reaches one of {succeeded, failed, cancelled}.
func (d *Driver) awaitTerminal(ctx context.Context, executionID string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		out, err := d.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: &executionID,
		})
		if err != nil {
			return fmt.Errorf("lakehouse: poll status: %w", err)
		}

		switch out.QueryExecution.Status.State {
		case types.QueryExecutionStateSucceeded:
			return nil
		case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
			reason := "unknown reason"
			if r := out.QueryExecution.Status.StateChangeReason; r != nil {
				reason = *r
			}
			return fmt.Errorf("lakehouse: query execution %s: %s", out.QueryExecution.Status.State, reason)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain pages through GetQueryExecutionResults. Athena's first page repeats
// the column names as its first data row; every subsequent query call
// therefore skips exactly row zero of the first page.
func (d *Driver) drain(ctx context.Context, executionID string, consume streamdriver.Consumer) error {
	var nextToken *string
	firstPage := true
	var cols []string

	for {
		out, err := d.client.GetQueryExecutionResults(ctx, &athena.GetQueryExecutionResultsInput{
			QueryExecutionId: &executionID,
			NextToken:        nextToken,
		})
		if err != nil {
			return fmt.Errorf("lakehouse: get results: %w", err)
		}

		if firstPage {
			cols = make([]string, len(out.ResultSet.ResultSetMetadata.ColumnInfo))
			for i, c := range out.ResultSet.ResultSetMetadata.ColumnInfo {
				if c.Name != nil {
					cols[i] = *c.Name
				}
			}
			if err := consume(cols, nil); err != nil {
				if errors.Is(err, streamdriver.ErrConsumerDone) {
					return nil
				}
				return err
			}
		}

		rows := out.ResultSet.Rows
		if firstPage && len(rows) > 0 {
			rows = rows[1:] // header row
		}
		firstPage = false

		for _, r := range rows {
			row := make([]wire.Value, len(r.Data))
			for i, datum := range r.Data {
				row[i] = decode(datum)
			}
			if err := consume(nil, row); err != nil {
				if errors.Is(err, streamdriver.ErrConsumerDone) {
					return nil
				}
				return err
			}
		}

		if out.NextToken == nil {
			return nil
		}
		nextToken = out.NextToken
	}
}

func decode(d types.Datum) wire.Value {
	if d.VarCharValue == nil {
		return wire.Null
	}
	return wire.NewString(*d.VarCharValue)
}

// Close releases the Athena client. Athena's client has no underlying
// connection to close; Close is a no-op kept for contract symmetry and is
// always idempotent.
func (d *Driver) Close() error {
	d.client = nil
	return nil
}
