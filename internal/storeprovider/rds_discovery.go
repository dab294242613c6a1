package storeprovider

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/oriys/relay/internal/config"
)

// RDSDiscovery implements Discovery against AWS RDS/Aurora: it lists
// DB instances, filters them to the ones carrying the configured tag,
// and maps each surviving instance to a PostgresConfig whose DSN points
// at the instance's writer endpoint.
type RDSDiscovery struct {
	client *rds.Client
	cfg    config.RDSDiscoveryConfig
}

// NewRDSDiscovery builds an RDSDiscovery from the process's ambient AWS
// credential chain (environment, shared config, or instance role),
// scoped to cfg.Region.
func NewRDSDiscovery(ctx context.Context, cfg config.RDSDiscoveryConfig) (*RDSDiscovery, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config for rds discovery: %w", err)
	}
	return &RDSDiscovery{client: rds.NewFromConfig(awsCfg), cfg: cfg}, nil
}

// Discover lists available DB instances and keeps only those tagged
// with cfg.TagKey=cfg.TagValue, matching SPEC_FULL.md's expectation
// that discovery is driven by operator-applied resource tags rather
// than a hardcoded instance list.
func (d *RDSDiscovery) Discover(ctx context.Context) ([]config.PostgresConfig, error) {
	var out []config.PostgresConfig
	paginator := rds.NewDescribeDBInstancesPaginator(d.client, &rds.DescribeDBInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe db instances: %w", err)
		}
		for _, inst := range page.DBInstances {
			if inst.Endpoint == nil || inst.DBInstanceIdentifier == nil {
				continue
			}
			if !d.matchesTag(inst.TagList) {
				continue
			}
			dbName := d.cfg.DBName
			if dbName == "" && inst.DBName != nil {
				dbName = *inst.DBName
			}
			dsn := fmt.Sprintf(
				"postgres://%s:%s@%s:%d/%s?sslmode=require",
				d.cfg.Username, d.cfg.Password, *inst.Endpoint.Address, inst.Endpoint.Port, dbName,
			)
			out = append(out, config.PostgresConfig{
				DSN:  dsn,
				Name: *inst.DBInstanceIdentifier,
			})
		}
	}
	return out, nil
}

func (d *RDSDiscovery) matchesTag(tags []types.Tag) bool {
	if d.cfg.TagKey == "" {
		return true
	}
	for _, t := range tags {
		if t.Key != nil && *t.Key == d.cfg.TagKey {
			if d.cfg.TagValue == "" || (t.Value != nil && *t.Value == d.cfg.TagValue) {
				return true
			}
		}
	}
	return false
}
