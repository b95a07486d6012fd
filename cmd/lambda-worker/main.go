package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"rca-backend/internal/bootstrap"
	"rca-backend/internal/shared/config"
	"rca-backend/internal/shared/lazy"
	"rca-backend/internal/shared/metrics"
	"rca-backend/internal/shared/telemetry"
	"rca-backend/internal/workerproc"
)

var app = lazy.New("lambda worker", func(ctx context.Context) (*bootstrap.App, error) {
	return bootstrap.Build(config.Load())
})

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	built, err := app.Get(ctx)
	if err != nil {
		log.Printf("bootstrap error: %v", err)
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, err
	}
	return processRecords(ctx, built.Processor(), event.Records), nil
}

// processRecords reports retryable failures back to SQS. Unrecoverable
// messages are acknowledged so they are not redelivered.
func processRecords(ctx context.Context, processor workerproc.Processor, records []events.SQSMessage) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range records {
		metrics.IncJobsReceived()
		msg, err := workerproc.HandleMessage(ctx, processor, record.Body)
		fields := map[string]any{
			"run_id":         msg.RunID,
			"sqs_message_id": record.MessageId,
		}
		if msg.RequestID != "" {
			fields["request_id"] = msg.RequestID
		}
		switch {
		case err == nil:
			telemetry.Info("worker.run.completed", fields)
			metrics.IncJobsCompleted()
		case workerproc.Unrecoverable(err):
			fields["error"] = err.Error()
			telemetry.Error("worker.run.decode_failed", fields)
			metrics.IncJobsDeletedUnrecoverable()
		default:
			fields["error"] = err.Error()
			telemetry.Error("worker.run.failed", fields)
			metrics.IncJobsFailed()
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
