// Package gitrepo keeps page revision history in one git repository per
// workspace. Each page is stored as pages/<id>.json and every saved change is
// a commit touching that file.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrInvalidID is returned for workspace or page ids that are not safe path
// segments.
var ErrInvalidID = errors.New("invalid repository id")

type Snapshot struct {
	Title      string `json:"title"`
	Icon       string `json:"icon"`
	Content    string `json:"content"`
	CoverImage string `json:"coverImage,omitempty"`
}

type Author struct {
	Name  string
	Email string
}

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Fields    []string  `json:"fields"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record commits snap as the new state of the page. It returns nil when the
// snapshot matches the last recorded one.
func (s *Service) Record(workspaceID, pageID string, snap Snapshot, author Author, message string) (*Revision, error) {
	if !validID(workspaceID) || !validID(pageID) {
		return nil, ErrInvalidID
	}
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(workspaceID)
	if err != nil {
		return nil, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}

	rel := pageFile(pageID)
	abs := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(rel))

	previous, err := readSnapshotFile(abs)
	if err != nil {
		return nil, err
	}
	if previous != nil && *previous == snap {
		return nil, nil
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create pages dir: %w", err)
	}
	if err := os.WriteFile(abs, append(payload, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return nil, fmt.Errorf("git add %s: %w", rel, err)
	}

	if message == "" {
		message = defaultMessage(previous, snap)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return nil, fmt.Errorf("commit page: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("read commit object: %w", err)
	}
	rev := toRevision(commitObj, ChangedFields(previous, snap))
	return &rev, nil
}

// History lists revisions of a page, newest first. A page that was never
// recorded has an empty history.
func (s *Service) History(workspaceID, pageID string, limit int) ([]Revision, error) {
	if !validID(workspaceID) || !validID(pageID) {
		return nil, ErrInvalidID
	}
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	items := make([]Revision, 0)
	repo, err := git.PlainOpen(s.repoPath(workspaceID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	rel := pageFile(pageID)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &rel})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	err = iter.ForEach(func(commitObj *object.Commit) error {
		current, err := snapshotAt(commitObj, rel)
		if err != nil {
			return err
		}
		var previous *Snapshot
		if parent, err := commitObj.Parent(0); err == nil {
			previous, err = snapshotAt(parent, rel)
			if err != nil {
				return err
			}
		}
		var fields []string
		if current != nil {
			fields = ChangedFields(previous, *current)
		}
		items = append(items, toRevision(commitObj, fields))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt returns the page as it was at the given revision. Abbreviated
// hashes are accepted.
func (s *Service) SnapshotAt(workspaceID, pageID, hash string) (Snapshot, error) {
	if !validID(workspaceID) || !validID(pageID) {
		return Snapshot{}, ErrInvalidID
	}
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(workspaceID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	snap, err := snapshotAt(commitObj, pageFile(pageID))
	if err != nil {
		return Snapshot{}, err
	}
	if snap == nil {
		return Snapshot{}, fmt.Errorf("page %s not present at %s: %w", pageID, hash, object.ErrFileNotFound)
	}
	return *snap, nil
}

// Remove deletes the workspace repository.
func (s *Service) Remove(workspaceID string) error {
	if !validID(workspaceID) {
		return ErrInvalidID
	}
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(workspaceID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

// ChangedFields names the snapshot fields that differ, in a fixed order.
func ChangedFields(from *Snapshot, to Snapshot) []string {
	var before Snapshot
	if from != nil {
		before = *from
	}
	fields := make([]string, 0, 4)
	if before.Title != to.Title {
		fields = append(fields, "title")
	}
	if before.Icon != to.Icon {
		fields = append(fields, "icon")
	}
	if before.Content != to.Content {
		fields = append(fields, "content")
	}
	if before.CoverImage != to.CoverImage {
		fields = append(fields, "coverImage")
	}
	return fields
}

func (s *Service) ensureRepo(workspaceID string) (*git.Repository, error) {
	dir := s.repoPath(workspaceID)
	repo, err := git.PlainOpen(dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(dir, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(workspaceID string) string {
	return filepath.Join(s.baseDir, workspaceID)
}

func (s *Service) workspaceLock(workspaceID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[workspaceID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[workspaceID] = lock
	return lock
}

func pageFile(pageID string) string {
	return path.Join("pages", pageID+".json")
}

func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}

func readSnapshotFile(abs string) (*Snapshot, error) {
	data, err := os.ReadFile(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func snapshotAt(commitObj *object.Commit, rel string) (*Snapshot, error) {
	file, err := commitObj.File(rel)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", rel, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(contents), &snap); err != nil {
		return nil, fmt.Errorf("decode commit snapshot: %w", err)
	}
	return &snap, nil
}

func defaultMessage(previous *Snapshot, snap Snapshot) string {
	if previous == nil {
		return fmt.Sprintf("Create %q", snap.Title)
	}
	return fmt.Sprintf("Update %q (%s)", snap.Title, strings.Join(ChangedFields(previous, snap), ", "))
}

func signature(author Author) *object.Signature {
	email := author.Email
	if email == "" {
		email = fmt.Sprintf("%s@users.flux.local", sanitizeEmail(author.Name))
	}
	name := author.Name
	if name == "" {
		name = "Flux"
	}
	return &object.Signature{Name: name, Email: email, When: time.Now()}
}

func toRevision(commitObj *object.Commit, fields []string) Revision {
	if fields == nil {
		fields = []string{}
	}
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
		Fields:    fields,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
