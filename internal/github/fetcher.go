package github

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/go-github/v81/github"

	"github.com/bull/irb-compliance/internal/storage"
)

// Fetcher lists and loads .md and .txt documents below a repository directory.
// It implements ingest.Source and ingest.Versioned.
type Fetcher struct {
	client   *Client
	owner    string
	repo     string
	basePath string
	ref      string
}

// NewFetcher creates a document fetcher for owner/repo at basePath on the
// default branch.
func NewFetcher(client *Client, owner, repo, basePath string) *Fetcher {
	return &Fetcher{
		client:   client,
		owner:    owner,
		repo:     repo,
		basePath: strings.Trim(basePath, "/"),
	}
}

// ParseLocation splits "owner/repo/path/to/dir" into its parts.
func ParseLocation(loc string) (owner, repo, basePath string, err error) {
	parts := strings.SplitN(strings.Trim(loc, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("invalid repository location %q, want owner/repo[/path]", loc)
	}
	if len(parts) == 3 {
		basePath = parts[2]
	}
	return parts[0], parts[1], basePath, nil
}

func (f *Fetcher) Name() string {
	return fmt.Sprintf("github:%s/%s/%s", f.owner, f.repo, f.basePath)
}

// List recursively lists supported files relative to the base path.
func (f *Fetcher) List(ctx context.Context) ([]string, error) {
	return f.listRecursive(ctx, f.basePath, "")
}

func (f *Fetcher) listRecursive(ctx context.Context, fullPath, relativePath string) ([]string, error) {
	_, dirContents, _, err := f.client.Repositories.GetContents(ctx, f.owner, f.repo, fullPath, f.contentOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", fullPath, err)
	}

	var docs []string
	for _, item := range dirContents {
		name := item.GetName()
		if name == "" {
			continue
		}
		itemRelPath := path.Join(relativePath, name)

		switch item.GetType() {
		case "file":
			if supported(name) {
				docs = append(docs, itemRelPath)
			}
		case "dir":
			subDocs, err := f.listRecursive(ctx, path.Join(fullPath, name), itemRelPath)
			if err != nil {
				return nil, err
			}
			docs = append(docs, subDocs...)
		}
	}
	return docs, nil
}

// Load fetches one file. The relative path is the document ID.
func (f *Fetcher) Load(ctx context.Context, relativePath string) (storage.Document, error) {
	fullPath := path.Join(f.basePath, relativePath)

	fileContent, _, _, err := f.client.Repositories.GetContents(ctx, f.owner, f.repo, fullPath, f.contentOptions())
	if err != nil {
		return storage.Document{}, fmt.Errorf("failed to get content of %s: %w", fullPath, err)
	}
	if fileContent == nil {
		return storage.Document{}, fmt.Errorf("no file content returned for %s", fullPath)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return storage.Document{}, fmt.Errorf("failed to decode content of %s: %w", fullPath, err)
	}

	return storage.Document{
		ID:      relativePath,
		Content: content,
		Metadata: storage.DocumentMetadata{
			Title: path.Base(relativePath),
			Attributes: map[string]string{
				"source": "github",
				"url":    f.rawURL(fullPath),
				"sha":    fileContent.GetSHA(),
			},
		},
	}, nil
}

// Revision returns the SHA of the latest commit touching the base path and
// pins subsequent reads to it.
func (f *Fetcher) Revision(ctx context.Context) (string, error) {
	opts := &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	}
	if f.basePath != "" {
		opts.Path = f.basePath
	}

	commits, _, err := f.client.Repositories.ListCommits(ctx, f.owner, f.repo, opts)
	if err != nil {
		return "", fmt.Errorf("failed to get latest commit: %w", err)
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("no commits found for path %s", f.basePath)
	}
	sha := commits[0].GetSHA()
	if sha == "" {
		return "", fmt.Errorf("commit SHA is empty")
	}

	f.ref = sha
	return sha, nil
}

func (f *Fetcher) contentOptions() *github.RepositoryContentGetOptions {
	if f.ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: f.ref}
}

func (f *Fetcher) rawURL(fullPath string) string {
	ref := f.ref
	if ref == "" {
		ref = "HEAD"
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", f.owner, f.repo, ref, fullPath)
}

func supported(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".md", ".txt":
		return true
	}
	return false
}
