// Package main hosts the chart crawler entrypoint.
//
// Architecture overview:
//   - Trigger: `chartcrawler run` is meant for a weekly cron (Wednesday 02:00 CET); `backfill` replays a date
//     range; `serve` exposes the same operations over HTTP (internal/api) for schedulers that prefer a webhook.
//   - Fetch: internal/scheduler admits at most fetch.concurrency requests in submission order, paced per host by
//     internal/policy/ratelimit. Pages come from the Colly fetcher (optionally cached) or from headless Chrome.
//   - Extract & merge: internal/extract turns each page into eight-column rows; the weekly CSV is uploaded to
//     {chart}/{YYYY}/{MM}/{DD}/result.csv and internal/merge appends it to the chart's historical CSV. Merges into
//     one historical key never overlap.
//   - Publish: historical datasets are downloaded into publish.local_dir and a new dataset version is pushed
//     through the Kaggle CLI and/or announced on Pub/Sub.
//
// Quick checklist:
//   - Object store: MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY (or storage.backend=gcs|local|memory).
//   - Everything else: CHARTS_<SECTION>_<KEY>, e.g. CHARTS_FETCH_CONCURRENCY, CHARTS_LEDGER_BACKEND.
//   - Run locally: go run ./cmd/chartcrawler run --date 2024-01-06 --config config.yaml
package main
