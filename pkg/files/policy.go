package files

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/restoreassist/pkg/observability"
)

// PolicyDocument is the on-disk folder policy
//
//	default_allowed_folders: [folderA]
//	organizations:
//	  3f0c...:
//	    allowed_folders: [folderB, folderC]
type PolicyDocument struct {
	DefaultAllowedFolders []string             `yaml:"default_allowed_folders"`
	Organizations         map[string]OrgPolicy `yaml:"organizations"`
}

// OrgPolicy overrides the default folders for one organization
type OrgPolicy struct {
	AllowedFolders []string `yaml:"allowed_folders"`
}

// FolderPolicy decides which remote folders an organization may touch.
// An empty allow list means every folder is allowed.
type FolderPolicy struct {
	mu       sync.RWMutex
	path     string
	defaults map[string]bool
	orgs     map[uuid.UUID]map[string]bool
}

// NewFolderPolicy builds a policy from an in-memory document
func NewFolderPolicy(doc PolicyDocument) (*FolderPolicy, error) {
	p := &FolderPolicy{}
	if err := p.apply(doc); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadFolderPolicy reads a policy file. An empty path yields an
// unrestricted policy.
func LoadFolderPolicy(path string) (*FolderPolicy, error) {
	if path == "" {
		return NewFolderPolicy(PolicyDocument{})
	}
	p := &FolderPolicy{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the policy file. On error the previous policy stays in place.
func (p *FolderPolicy) Reload() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read folder policy: %w", err)
	}

	var doc PolicyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse folder policy: %w", err)
	}
	return p.apply(doc)
}

func (p *FolderPolicy) apply(doc PolicyDocument) error {
	orgs := make(map[uuid.UUID]map[string]bool, len(doc.Organizations))
	for rawID, orgPolicy := range doc.Organizations {
		id, err := uuid.Parse(rawID)
		if err != nil {
			return fmt.Errorf("invalid organization id %q in folder policy: %w", rawID, err)
		}
		orgs[id] = toSet(orgPolicy.AllowedFolders)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults = toSet(doc.DefaultAllowedFolders)
	p.orgs = orgs
	return nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = true
		}
	}
	return set
}

func (p *FolderPolicy) allowed(orgID uuid.UUID) map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if set, ok := p.orgs[orgID]; ok {
		return set
	}
	return p.defaults
}

// AllowedFolders returns the folders orgID is restricted to, or nil when
// unrestricted
func (p *FolderPolicy) AllowedFolders(orgID uuid.UUID) []string {
	set := p.allowed(orgID)
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AllowsFolder reports whether orgID may use folderID directly
func (p *FolderPolicy) AllowsFolder(orgID uuid.UUID, folderID string) bool {
	set := p.allowed(orgID)
	return len(set) == 0 || set[folderID]
}

// AllowsParents reports whether a file with the given parents is inside an
// allowed folder
func (p *FolderPolicy) AllowsParents(orgID uuid.UUID, parents []string) bool {
	set := p.allowed(orgID)
	if len(set) == 0 {
		return true
	}
	for _, parent := range parents {
		if set[parent] {
			return true
		}
	}
	return false
}

// Watch reloads the policy whenever its file is written or replaced, until
// ctx is cancelled. The parent directory is watched so atomic renames are
// picked up too.
func (p *FolderPolicy) Watch(ctx context.Context, logger *observability.Logger) error {
	if p.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	target := filepath.Clean(p.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", target, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		defer observability.RecoverPanic(logger, "folder policy watcher")

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := p.Reload(); err != nil {
					logger.WithError(err).Warn("folder policy reload failed, keeping previous policy")
					continue
				}
				logger.WithField("path", target).Info("folder policy reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("folder policy watcher error")
			}
		}
	}()

	return nil
}
