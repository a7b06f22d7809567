package chart

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"f1standings/notionsync/internal/standings"
)

// DefaultColor is used for entities without a configured colour
const DefaultColor = "#888888"

// Series is one line of the chart
type Series struct {
	Title string `json:"title"`
	Data  []int  `json:"data"`
	Color string `json:"color"`
}

// Data is the chart source document
type Data struct {
	Labels []string `json:"labels"`
	Series []Series `json:"series"`
}

// Build converts standings into chart data.
// Only rounds up to the latest completed one are plotted; lines follow the ranking.
func Build(st *standings.Standings, colors map[string]string) *Data {
	n := st.LastCompleted() + 1

	d := &Data{
		Labels: make([]string, 0, n),
		Series: make([]Series, 0, len(st.Entities)),
	}
	for _, r := range st.Rounds[:n] {
		d.Labels = append(d.Labels, r.Name)
	}

	for _, e := range st.Ranked() {
		color, ok := colors[e]
		if !ok {
			color = DefaultColor
		}
		data := make([]int, n)
		copy(data, st.Series[e][:n])
		d.Series = append(d.Series, Series{Title: e, Data: data, Color: color})
	}

	return d
}

// Marshal encodes chart data as indented JSON
func (d *Data) Marshal() ([]byte, error) {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode chart data: %w", err)
	}
	return b, nil
}

// WriteFile writes chart data to path
func WriteFile(path string, d *Data) error {
	b, err := d.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write chart file: %w", err)
	}
	log.Info().Str("path", path).Int("series", len(d.Series)).Msg("Chart data written")
	return nil
}

// ObjectPutter is the subset of the S3 client the publisher needs
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads chart data to a bucket
type S3Publisher struct {
	Client ObjectPutter
	Bucket string
	Key    string
}

// NewS3Publisher loads the default AWS configuration
// (environment variables, shared config and credentials files)
func NewS3Publisher(ctx context.Context, bucket, key string) (*S3Publisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3Publisher{
		Client: s3.NewFromConfig(cfg),
		Bucket: bucket,
		Key:    key,
	}, nil
}

// Publish uploads chart data as a JSON object
func (p *S3Publisher) Publish(ctx context.Context, d *Data) error {
	b, err := d.Marshal()
	if err != nil {
		return err
	}

	_, err = p.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.Bucket),
		Key:          aws.String(p.Key),
		Body:         bytes.NewReader(b),
		ContentType:  aws.String("application/json"),
		CacheControl: aws.String("max-age=300"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload chart to s3://%s/%s: %w", p.Bucket, p.Key, err)
	}

	log.Info().Str("bucket", p.Bucket).Str("key", p.Key).Msg("Chart data published")
	return nil
}
