package queue

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// AzureBroker resolves queues against one Azure Queue Storage account.
type AzureBroker struct {
	service *azqueue.ServiceClient
}

// NewAzureBrokerFromConnectionString builds a broker from a
// storage-account connection string (local development, Azurite).
func NewAzureBrokerFromConnectionString(connStr string) (*AzureBroker, error) {
	service, err := azqueue.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, fmt.Errorf("creating queue service client: %w", err)
	}
	return &AzureBroker{service: service}, nil
}

// NewAzureBroker builds a broker against the service URL using the
// ambient Azure credential chain.
func NewAzureBroker(serviceURL string) (*AzureBroker, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving azure credential: %w", err)
	}
	service, err := azqueue.NewServiceClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating queue service client: %w", err)
	}
	return &AzureBroker{service: service}, nil
}

// Queue returns a client for the named queue.
func (b *AzureBroker) Queue(name string) Queue {
	return &azureQueue{name: name, client: b.service.NewQueueClient(name)}
}

type azureQueue struct {
	name   string
	client *azqueue.QueueClient
}

func (q *azureQueue) Name() string { return q.name }

// Send enqueues the body base64-encoded, the encoding the portal and
// Functions runtime expect.
func (q *azureQueue) Send(ctx context.Context, body []byte) error {
	encoded := base64.StdEncoding.EncodeToString(body)
	if _, err := q.client.EnqueueMessage(ctx, encoded, nil); err != nil {
		return fmt.Errorf("sending to %s: %w", q.name, err)
	}
	return nil
}

func (q *azureQueue) Receive(ctx context.Context, max int, visibility time.Duration) ([]Message, error) {
	resp, err := q.client.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  to.Ptr(int32(max)),
		VisibilityTimeout: to.Ptr(int32(visibility / time.Second)),
	})
	if err != nil {
		return nil, fmt.Errorf("receiving from %s: %w", q.name, err)
	}

	out := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m.MessageID == nil || m.PopReceipt == nil || m.MessageText == nil {
			continue
		}
		body, err := base64.StdEncoding.DecodeString(*m.MessageText)
		if err != nil {
			// Not base64: treat the raw text as the body.
			body = []byte(*m.MessageText)
		}
		var dequeued int64
		if m.DequeueCount != nil {
			dequeued = *m.DequeueCount
		}
		out = append(out, Message{
			ID:           *m.MessageID,
			PopReceipt:   *m.PopReceipt,
			DequeueCount: dequeued,
			Body:         body,
		})
	}
	return out, nil
}

func (q *azureQueue) Delete(ctx context.Context, msg Message) error {
	if _, err := q.client.DeleteMessage(ctx, msg.ID, msg.PopReceipt, nil); err != nil {
		return fmt.Errorf("deleting %s from %s: %w", msg.ID, q.name, err)
	}
	return nil
}

func (q *azureQueue) Depth(ctx context.Context) (int, error) {
	props, err := q.client.GetProperties(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("reading depth of %s: %w", q.name, err)
	}
	if props.ApproximateMessagesCount == nil {
		return 0, nil
	}
	return int(*props.ApproximateMessagesCount), nil
}
