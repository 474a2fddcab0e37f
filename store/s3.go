package store

import (
	"bytes"
	"io"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
)

// S3 keeps items in an S3 bucket under a common key prefix. Attachments
// are small (the platform caps uploads at a few hundred MB and almost all
// are far under that), so items are buffered whole in memory on both the
// read and write paths rather than streamed in ranges.
//
// Do not change Bucket or Prefix concurrently with calls using the store.
type S3 struct {
	svc    *s3.S3
	Bucket string
	Prefix string
}

var _ Store = &S3{}

// NewS3 creates an S3 store on the given bucket, prepending prefix to every
// key. The credentials in the session are used for all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		svc:    s3.New(awsSession),
		Bucket: bucket,
		Prefix: prefix,
	}
}

// List returns every key under the store's prefix. It is safe to use on a
// bucket containing other items.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(s.Bucket),
			Prefix: aws.String(s.Prefix),
		}
		err := s.svc.ListObjectsV2Pages(input,
			func(page *s3.ListObjectsV2Output, lastpage bool) bool {
				for _, item := range page.Contents {
					out <- strings.TrimPrefix(*item.Key, s.Prefix)
				}
				return !lastpage
			})
		if err != nil {
			log.Println("S3 List:", s.Prefix, err)
			raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix})
		}
	}()
	return out
}

// Open downloads the item and returns a reader over its bytes.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	}
	out, err := s.svc.GetObject(input)
	if err != nil {
		return nil, 0, err
	}
	defer out.Body.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, 0, err
	}
	b := buf.Bytes()
	return memReader{bytes.NewReader(b)}, int64(len(b)), nil
}

// Create returns a writer which uploads to the key when closed.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	if s.exists(key) {
		return nil, ErrKeyExists
	}
	return &s3Writer{parent: s, key: s.Prefix + key}, nil
}

func (s *S3) exists(key string) bool {
	input := &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	}
	_, err := s.svc.HeadObject(input)
	return err == nil
}

type s3Writer struct {
	parent *S3
	key    string
	buf    bytes.Buffer
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(w.parent.Bucket),
		Key:    aws.String(w.key),
		Body:   bytes.NewReader(w.buf.Bytes()),
	}
	_, err := w.parent.svc.PutObject(input)
	if err != nil {
		log.Println("S3 Put:", w.key, err)
		raven.CaptureError(err, map[string]string{"Bucket": w.parent.Bucket, "Key": w.key})
	}
	return err
}

// Delete removes the key. Deleting a missing key is not an error.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
		err = nil
	}
	if err != nil {
		log.Println("S3 Delete:", s.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Key": key})
	}
	return err
}
