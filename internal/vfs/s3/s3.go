// Package s3 exposes S3 buckets as s3:// locations. Keys are split on "/"
// so common prefixes show up as folders.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/logging"
	"github.com/justyntemme/waypoint/internal/metrics"
	"github.com/justyntemme/waypoint/internal/monitor"
	"github.com/justyntemme/waypoint/internal/vfs"
)

// Scheme is the URI scheme served by the backend.
const Scheme = "s3"

// Bucket is a configured bucket. The bucket name is the location
// authority.
type Bucket struct {
	Name      string
	Endpoint  string // empty for AWS
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool // required by MinIO
}

// API is the subset of the S3 client the backend uses.
type API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Connector builds the client for a bucket.
type Connector func(ctx context.Context, b Bucket) (API, error)

// Options configures a Backend.
type Options struct {
	Buckets []Bucket
	Hub     *monitor.Hub // nil disables change events
	Connect Connector    // defaults to Connect
}

// Backend serves s3:// locations.
type Backend struct {
	vfs.Base
	opts    Options
	buckets map[string]Bucket

	mu      sync.Mutex
	clients map[string]API
}

// New creates the backend. Clients are built on first use.
func New(opts Options) *Backend {
	if opts.Connect == nil {
		opts.Connect = Connect
	}
	b := &Backend{
		opts:    opts,
		buckets: make(map[string]Bucket),
		clients: make(map[string]API),
	}
	for _, bk := range opts.Buckets {
		if _, dup := b.buckets[bk.Bucket]; dup {
			logging.Warn("s3: duplicate bucket ignored", zap.String("bucket", bk.Bucket))
			continue
		}
		b.buckets[bk.Bucket] = bk
	}
	return b
}

// Connect loads the AWS configuration for b. Static keys and a custom
// endpoint override the defaults when set.
func Connect(ctx context.Context, b Bucket) (API, error) {
	var opts []func(*config.LoadOptions) error
	if b.Region != "" {
		opts = append(opts, config.WithRegion(b.Region))
	}
	if b.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.AccessKey, b.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if b.Endpoint != "" {
			o.BaseEndpoint = aws.String(b.Endpoint)
		}
		o.UsePathStyle = b.PathStyle
	}), nil
}

func (b *Backend) Name() string { return "s3" }

func (b *Backend) Schemes() []string { return []string{Scheme} }

// Root returns the location of a bucket's top level.
func Root(bk Bucket) vfs.Location {
	return vfs.Location(Scheme + "://" + bk.Bucket + "/")
}

// EntryPoints lists every configured bucket.
func (b *Backend) EntryPoints(ctx context.Context) ([]vfs.EntryPoint, error) {
	eps := make([]vfs.EntryPoint, 0, len(b.buckets))
	for _, bk := range b.opts.Buckets {
		if b.buckets[bk.Bucket] != bk {
			continue
		}
		eps = append(eps, vfs.EntryPoint{Location: Root(bk), Name: displayName(bk), Icon: "bucket"})
	}
	return eps, nil
}

func displayName(bk Bucket) string {
	if bk.Name != "" {
		return bk.Name
	}
	return bk.Bucket
}

func (b *Backend) client(ctx context.Context, loc vfs.Location) (API, error) {
	bk, ok := b.buckets[loc.Authority()]
	if !ok {
		return nil, fmt.Errorf("no configured bucket %q: %w", loc.Authority(), fs.ErrNotExist)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[bk.Bucket]; ok {
		return c, nil
	}
	c, err := b.opts.Connect(ctx, bk)
	if err != nil {
		return nil, err
	}
	b.clients[bk.Bucket] = c
	debug.Log(debug.FS, "s3: client ready for %s", bk.Bucket)
	return c, nil
}

func key(loc vfs.Location) string {
	return strings.TrimPrefix(loc.Path(), "/")
}

// prefix returns the key prefix of the folder at loc.
func prefix(loc vfs.Location) string {
	if loc.IsRoot() {
		return ""
	}
	return key(loc) + "/"
}

func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return bucket + "/" + strings.Join(parts, "/")
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

func record(op string, start time.Time, err error) {
	metrics.RecordOperation("s3", op, time.Since(start), err)
}

func objectData(loc vfs.Location, size *int64, mod *time.Time) *vfs.FileData {
	fd := vfs.NewFileData(loc, vfs.KindRegular)
	fd.Size = aws.ToInt64(size)
	fd.ModTime = aws.ToTime(mod)
	fd.Hidden = strings.HasPrefix(fd.Name, ".")
	return fd
}

func (b *Backend) folderData(loc vfs.Location) *vfs.FileData {
	fd := vfs.NewFileData(loc, vfs.KindDirectory)
	if loc.IsRoot() {
		fd.Name = displayName(b.buckets[loc.Authority()])
	}
	fd.Hidden = strings.HasPrefix(fd.Name, ".")
	return fd
}

func (b *Backend) List(ctx context.Context, folder vfs.Location, attrs vfs.Attributes) ([]*vfs.FileData, error) {
	c, err := b.client(ctx, folder)
	if err != nil {
		return nil, err
	}
	pfx := prefix(folder)
	p := s3.NewListObjectsV2Paginator(c, &s3.ListObjectsV2Input{
		Bucket:    aws.String(folder.Authority()),
		Prefix:    aws.String(pfx),
		Delimiter: aws.String("/"),
	})

	start := time.Now()
	var out []*vfs.FileData
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			record("list", start, err)
			return nil, fmt.Errorf("list %s: %w", folder, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), pfx), "/")
			if name != "" {
				out = append(out, b.folderData(folder.Join(name)))
			}
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), pfx)
			if name == "" {
				continue // folder marker
			}
			out = append(out, objectData(folder.Join(name), obj.Size, obj.LastModified))
		}
	}
	record("list", start, nil)

	if len(out) == 0 && !folder.IsRoot() {
		fd, err := b.stat(ctx, c, folder)
		if err != nil {
			return nil, err
		}
		if !fd.IsDir() {
			return nil, fmt.Errorf("list %s: not a folder", folder)
		}
	}
	slices.SortFunc(out, func(a, b *vfs.FileData) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (b *Backend) ForEachChild(ctx context.Context, parent vfs.Location, recursive bool, attrs vfs.Attributes, dir vfs.DirFunc, file vfs.FileFunc) error {
	_, err := b.walk(ctx, parent, recursive, dir, file)
	return err
}

func (b *Backend) walk(ctx context.Context, parent vfs.Location, recursive bool, dir vfs.DirFunc, file vfs.FileFunc) (stopped bool, err error) {
	children, err := b.List(ctx, parent, "")
	if err != nil {
		return false, err
	}
	for _, fd := range children {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if file != nil {
			file(fd)
		}
		if !fd.IsDir() || !recursive {
			continue
		}
		if dir != nil {
			switch dir(fd) {
			case vfs.DirSkip:
				continue
			case vfs.DirStop:
				return true, nil
			}
		}
		if stopped, err := b.walk(ctx, fd.Location, true, dir, file); stopped || err != nil {
			return stopped, err
		}
	}
	return false, nil
}

// stat resolves loc as an object first and as a folder prefix second.
func (b *Backend) stat(ctx context.Context, c API, loc vfs.Location) (*vfs.FileData, error) {
	if loc.IsRoot() {
		return b.folderData(loc), nil
	}
	start := time.Now()
	head, err := c.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Authority()),
		Key:    aws.String(key(loc)),
	})
	if err == nil {
		record("head", start, nil)
		fd := objectData(loc, head.ContentLength, head.LastModified)
		fd.ContentType = aws.ToString(head.ContentType)
		return fd, nil
	}
	if !isNotFound(err) {
		record("head", start, err)
		return nil, fmt.Errorf("stat %s: %w", loc, err)
	}

	out, err := c.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(loc.Authority()),
		Prefix:  aws.String(prefix(loc)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", loc, err)
	}
	if len(out.Contents) == 0 {
		return nil, fmt.Errorf("%s: %w", loc, fs.ErrNotExist)
	}
	return b.folderData(loc), nil
}

func (b *Backend) ReadAttributes(ctx context.Context, files []vfs.Location, attrs vfs.Attributes) ([]*vfs.FileData, error) {
	out := make([]*vfs.FileData, 0, len(files))
	for _, loc := range files {
		c, err := b.client(ctx, loc)
		if err != nil {
			return nil, err
		}
		fd, err := b.stat(ctx, c, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, fd)
	}
	return out, nil
}

// keys lists every object key below the folder at loc.
func keys(ctx context.Context, c API, loc vfs.Location) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(c, &s3.ListObjectsV2Input{
		Bucket: aws.String(loc.Authority()),
		Prefix: aws.String(prefix(loc)),
	})
	var out []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			out = append(out, aws.ToString(obj.Key))
		}
	}
	return out, nil
}

func copyObject(ctx context.Context, c API, bucket, from, to string) error {
	start := time.Now()
	_, err := c.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(bucket),
		Key:        aws.String(to),
		CopySource: aws.String(copySource(bucket, from)),
	})
	record("copy", start, err)
	if err != nil {
		return fmt.Errorf("copy %s -> %s: %w", from, to, err)
	}
	return nil
}

func deleteObject(ctx context.Context, c API, bucket, k string) error {
	start := time.Now()
	_, err := c.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(k),
	})
	record("delete", start, err)
	if err != nil {
		return fmt.Errorf("delete %s: %w", k, err)
	}
	return nil
}

// transfer copies the object or folder at src to dst, deleting the source
// keys afterwards when move is set.
func (b *Backend) transfer(ctx context.Context, c API, src, dst vfs.Location, move bool) error {
	fd, err := b.stat(ctx, c, src)
	if err != nil {
		return err
	}
	bucket := src.Authority()
	pairs := [][2]string{{key(src), key(dst)}}
	if fd.IsDir() {
		ks, err := keys(ctx, c, src)
		if err != nil {
			return err
		}
		pairs = pairs[:0]
		for _, k := range ks {
			pairs = append(pairs, [2]string{k, prefix(dst) + strings.TrimPrefix(k, prefix(src))})
		}
	}
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := copyObject(ctx, c, bucket, p[0], p[1]); err != nil {
			return err
		}
	}
	if !move {
		return nil
	}
	for _, p := range pairs {
		if err := deleteObject(ctx, c, bucket, p[0]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) remove(ctx context.Context, c API, loc vfs.Location) error {
	fd, err := b.stat(ctx, c, loc)
	if err != nil {
		return err
	}
	if !fd.IsDir() {
		return deleteObject(ctx, c, loc.Authority(), key(loc))
	}
	ks, err := keys(ctx, c, loc)
	if err != nil {
		return err
	}
	for _, k := range ks {
		if err := deleteObject(ctx, c, loc.Authority(), k); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Rename(ctx context.Context, file vfs.Location, newName string) (vfs.Location, error) {
	c, err := b.client(ctx, file)
	if err != nil {
		return "", err
	}
	parent, ok := file.Parent()
	if !ok {
		return "", fmt.Errorf("cannot rename %s", file)
	}
	to := parent.Join(newName)
	if _, err := b.stat(ctx, c, to); err == nil {
		return "", fmt.Errorf("%s: %w", to, fs.ErrExist)
	}
	if err := b.transfer(ctx, c, file, to, true); err != nil {
		return "", err
	}
	if b.opts.Hub != nil {
		b.opts.Hub.FileRenamed(file, to)
	}
	return to, nil
}

// Copy works within one bucket only.
func (b *Backend) Copy(ctx context.Context, req vfs.CopyRequest) error {
	c, err := b.client(ctx, req.Destination)
	if err != nil {
		return err
	}
	for _, f := range req.Files {
		if f.Authority() != req.Destination.Authority() {
			return fmt.Errorf("copy between buckets: %w", vfs.ErrNotSupported)
		}
	}

	exists := func(l vfs.Location) bool {
		_, err := b.stat(ctx, c, l)
		return err == nil
	}
	var created, moved []vfs.Location
	for i, src := range req.Files {
		if err = ctx.Err(); err != nil {
			break
		}
		dst := req.Destination.Join(src.Base())
		if dst == src {
			if req.Move {
				continue
			}
			dst = vfs.FreeName(dst, exists)
		}
		if dst.HasAncestor(src) {
			err = fmt.Errorf("copy %s into itself: %w", src, vfs.ErrNotSupported)
			break
		}
		if exists(dst) {
			res := vfs.ConflictKeepBoth
			if req.Conflict != nil {
				s, serr := b.stat(ctx, c, src)
				d, derr := b.stat(ctx, c, dst)
				if serr == nil && derr == nil {
					res = req.Conflict(s, d)
				}
			}
			switch res {
			case vfs.ConflictSkip:
				continue
			case vfs.ConflictAbort:
				err = vfs.ErrCancelled
			case vfs.ConflictKeepBoth:
				dst = vfs.FreeName(dst, exists)
			default:
				err = b.remove(ctx, c, dst)
			}
			if err != nil {
				break
			}
		}

		if err = b.transfer(ctx, c, src, dst, req.Move); err != nil {
			break
		}
		created = append(created, dst)
		if req.Move {
			moved = append(moved, src)
		}
		if req.Progress != nil {
			req.Progress(vfs.Progress{Label: src.Base(), Current: int64(i + 1), Total: int64(len(req.Files))})
		}
	}

	if b.opts.Hub != nil {
		if len(created) > 0 {
			b.opts.Hub.FilesCreated(req.Destination, created, req.Position)
		}
		if len(moved) > 0 {
			b.opts.Hub.FilesDeleted(moved)
		}
	}
	return err
}

// Remove deletes objects. Buckets have no trash, so only permanent removal
// is supported.
func (b *Backend) Remove(ctx context.Context, location vfs.Location, files []vfs.Location, permanently bool) error {
	if !permanently {
		return vfs.ErrNotSupported
	}
	var removed []vfs.Location
	var err error
	for _, f := range files {
		if f.IsRoot() {
			err = fmt.Errorf("cannot remove bucket %s", f.Authority())
			break
		}
		var c API
		if c, err = b.client(ctx, f); err != nil {
			break
		}
		if err = b.remove(ctx, c, f); err != nil {
			break
		}
		removed = append(removed, f)
	}
	if b.opts.Hub != nil && len(removed) > 0 {
		b.opts.Hub.FilesDeleted(removed)
	}
	return err
}

func (b *Backend) CanCut() bool { return true }

func (b *Backend) DropActions(dest, file vfs.Location) vfs.DropAction {
	if dest.Authority() == file.Authority() {
		return vfs.DropCopy | vfs.DropMove
	}
	return 0
}
