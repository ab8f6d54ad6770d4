package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/appendblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue/queueerror"
)

func init() {
	Register("azurearchive", newAzureArchivePlugin)
}

// AzureArchivePlugin is the cloud-backed storage plugin: datapoints land
// as JSON lines on a per-metric append blob, retention/aggregation config
// lives in an Azure Table entity, and tag indexing is a durable queue
// message rather than a fire-and-forget HTTP POST. Client construction
// (shared-key credential, "create if not exists") is grounded on
// azblob.go/aztable.go/azqueue.go's newBlobClient/newTableClient/
// newQueueClient; the handshake/token/SAS bootstrap protocol those files
// build on top of that plumbing is not carried over — this plugin has no
// inbound side to bootstrap, it only ever reads/writes resources it
// already knows the names of.
type AzureArchivePlugin struct {
	blobSvc  *service.Client
	tableSvc *aztables.ServiceClient
	queueSvc *azqueue.ServiceClient

	container  string
	entityPath string
	queueName  string

	graphiteURL string
}

func newAzureArchivePlugin(opts map[string]string) (TimeSeriesDatabase, error) {
	account, key := opts["AzureAccount"], opts["AzureKey"]
	container := orDefault(opts["AzureContainer"], "carbon-archive")
	table := orDefault(opts["AzureTable"], "carbonmetadata")
	queueName := opts["AzureTagQueue"]

	if account == "" || key == "" {
		return nil, fmt.Errorf("%w: azurearchive: AzureAccount and AzureKey are required", ErrInvalidConfiguration)
	}

	blobCred, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("storage/azurearchive: blob credential: %w", err)
	}
	blobClient, err := azblob.NewClientWithSharedKeyCredential(blobServiceURL(account), blobCred, nil)
	if err != nil {
		return nil, fmt.Errorf("storage/azurearchive: blob client: %w", err)
	}

	tableCred, err := aztables.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("storage/azurearchive: table credential: %w", err)
	}
	tableSvc, err := aztables.NewServiceClientWithSharedKey(tableServiceURL(account), tableCred, nil)
	if err != nil {
		return nil, fmt.Errorf("storage/azurearchive: table client: %w", err)
	}

	p := &AzureArchivePlugin{
		blobSvc:     blobClient.ServiceClient(),
		tableSvc:    tableSvc,
		container:   container,
		entityPath:  table,
		queueName:   queueName,
		graphiteURL: opts["GraphiteURL"],
	}

	ctx := context.Background()
	if _, err := p.blobSvc.NewContainerClient(container).Create(ctx, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("storage/azurearchive: create container: %w", err)
	}
	if _, err := p.tableSvc.CreateTable(ctx, table, nil); err != nil {
		// aztables has no typed "already exists" sentinel exposed here;
		// treat create as best-effort, matching the teacher's driver
		// factories (aztable.go's tableFactory ignores CreateTable's error).
		_ = err
	}

	if queueName != "" {
		queueCred, err := azqueue.NewSharedKeyCredential(account, key)
		if err != nil {
			return nil, fmt.Errorf("storage/azurearchive: queue credential: %w", err)
		}
		queueSvc, err := azqueue.NewServiceClientWithSharedKeyCredential(queueServiceURL(account), queueCred, nil)
		if err != nil {
			return nil, fmt.Errorf("storage/azurearchive: queue client: %w", err)
		}
		p.queueSvc = queueSvc
		if _, err := p.queueSvc.NewQueueClient(queueName).Create(ctx, nil); err != nil && !queueerror.HasCode(err, queueerror.QueueAlreadyExists) {
			return nil, fmt.Errorf("storage/azurearchive: create queue: %w", err)
		}
	}

	return p, nil
}

func blobServiceURL(account string) string {
	return fmt.Sprintf("https://%s.blob.core.windows.net/", account)
}
func tableServiceURL(account string) string {
	return fmt.Sprintf("https://%s.table.core.windows.net/", account)
}
func queueServiceURL(account string) string {
	return fmt.Sprintf("https://%s.queue.core.windows.net/", account)
}

func (p *AzureArchivePlugin) blobName(metric string) string {
	return tagEncode(metric, "/") + ".jsonl"
}

func (p *AzureArchivePlugin) blobClient(metric string) *appendblob.Client {
	return p.blobSvc.NewContainerClient(p.container).NewAppendBlobClient(p.blobName(metric))
}

// entityKeys returns the aztables key pair for metric: the partition key
// is the plugin's table name, shared by every metric, and the row key is
// the metric tag-encoded with '_' as the separator, so it holds no '/'.
func (p *AzureArchivePlugin) entityKeys(metric string) (partitionKey, rowKey string) {
	encoded := tagEncode(metric, "_")
	return p.entityPath, encoded
}

func (p *AzureArchivePlugin) GetFilesystemPath(string) (string, bool) {
	return "", false
}

func (p *AzureArchivePlugin) Exists(ctx context.Context, metric string) (bool, error) {
	_, err := p.blobClient(metric).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("storage/azurearchive: exists %s: %w", metric, err)
	}
	return true, nil
}

type archiveEntity struct {
	TimeStep          int
	AggregationMethod string
	XFilesFactor      float64
	RetentionsJSON    string
}

func (p *AzureArchivePlugin) Create(ctx context.Context, metric string, retentions []Retention, xFilesFactor float64, aggregation AggregationMethod) error {
	if err := p.ValidateArchiveList(retentions); err != nil {
		return err
	}
	if _, err := p.blobClient(metric).Create(ctx, nil); err != nil && !bloberror.HasCode(err, bloberror.BlobAlreadyExists) {
		return fmt.Errorf("storage/azurearchive: create blob %s: %w", metric, err)
	}

	raw, err := json.Marshal(retentions)
	if err != nil {
		return fmt.Errorf("storage/azurearchive: encode retentions: %w", err)
	}
	pk, rk := p.entityKeys(metric)
	entity := map[string]any{
		"PartitionKey":      pk,
		"RowKey":            rk,
		"TimeStep":          retentions[0].SecondsPerPoint,
		"AggregationMethod": string(aggregation),
		"XFilesFactor":      xFilesFactor,
		"RetentionsJSON":    string(raw),
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("storage/azurearchive: encode entity: %w", err)
	}
	client := p.tableSvc.NewClient(p.entityPath)
	if _, err := client.UpsertEntity(ctx, data, nil); err != nil {
		return fmt.Errorf("storage/azurearchive: create metadata %s: %w", metric, err)
	}
	return nil
}

func (p *AzureArchivePlugin) Write(ctx context.Context, metric string, points []Datapoint) error {
	client := p.blobClient(metric)
	var buf strings.Builder
	for _, dp := range points {
		line, err := json.Marshal(dp)
		if err != nil {
			return fmt.Errorf("storage/azurearchive: encode datapoint: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	reader := strings.NewReader(buf.String())
	if _, err := client.AppendBlock(ctx, streaming.NopCloser(reader), nil); err != nil {
		return fmt.Errorf("storage/azurearchive: write %s: %w", metric, err)
	}
	return nil
}

func (p *AzureArchivePlugin) GetMetadata(ctx context.Context, metric, key string) (string, error) {
	pk, rk := p.entityKeys(metric)
	resp, err := p.tableSvc.NewClient(p.entityPath).GetEntity(ctx, pk, rk, nil)
	if err != nil {
		return "", fmt.Errorf("storage/azurearchive: metadata %s: %w", metric, err)
	}
	var entity map[string]any
	if err := json.Unmarshal(resp.Value, &entity); err != nil {
		return "", fmt.Errorf("storage/azurearchive: decode metadata %s: %w", metric, err)
	}
	v, ok := entity[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMetadata, key)
	}
	return fmt.Sprintf("%v", v), nil
}

func (p *AzureArchivePlugin) SetMetadata(ctx context.Context, metric, key, value string) error {
	pk, rk := p.entityKeys(metric)
	client := p.tableSvc.NewClient(p.entityPath)
	resp, err := client.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		return fmt.Errorf("storage/azurearchive: metadata %s: %w", metric, err)
	}
	var entity map[string]any
	if err := json.Unmarshal(resp.Value, &entity); err != nil {
		return fmt.Errorf("storage/azurearchive: decode metadata %s: %w", metric, err)
	}
	entity[key] = value
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("storage/azurearchive: encode metadata %s: %w", metric, err)
	}
	if _, err := client.UpsertEntity(ctx, data, nil); err != nil {
		return fmt.Errorf("storage/azurearchive: update metadata %s: %w", metric, err)
	}
	return nil
}

func (p *AzureArchivePlugin) ValidateArchiveList(retentions []Retention) error {
	if len(retentions) == 0 {
		return fmt.Errorf("%w: at least one retention is required", ErrInvalidConfiguration)
	}
	for i, r := range retentions {
		if r.SecondsPerPoint <= 0 || r.Points <= 0 {
			return fmt.Errorf("%w: retention %d: secondsPerPoint and points must be positive", ErrInvalidConfiguration, i)
		}
	}
	return nil
}

// Tag enqueues a durable tag-indexing message instead of firing the HTTP
// POST directly, the thing database.py's fire-and-forget tag() can't
// offer: a queue survives the indexing service being briefly down. Falls
// back to the shared HTTP tagger when no queue endpoint is configured.
func (p *AzureArchivePlugin) Tag(ctx context.Context, metric string) {
	if p.queueSvc == nil {
		tagOverHTTP(ctx, p.graphiteURL, metric)
		return
	}
	_, err := p.queueSvc.NewQueueClient(p.queueName).EnqueueMessage(ctx, metric, nil)
	if err != nil {
		tagOverHTTP(ctx, p.graphiteURL, metric)
	}
}
