package accountpool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Store is the persistence port for account records. The core
// depends only on this interface; the accounts file's on-disk shape is an
// external collaborator.
type Store interface {
	Load() ([]*Account, error)
	Save(accounts []*Account) error
}

// accountsFile is the persisted shape: a single object with an accounts
// array.
type accountsFile struct {
	Accounts []*Account `yaml:"accounts" json:"accounts"`
}

// FileStore is a Store backed by a single file, either YAML or JSON5
// depending on Path's extension (".json"/".json5" selects JSON5; anything
// else is treated as YAML). Writes are best-effort and overwrite the whole
// file.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) isJSON() bool {
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".json", ".json5":
		return true
	default:
		return false
	}
}

func (f *FileStore) Load() ([]*Account, error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	var doc accountsFile
	if f.isJSON() {
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse accounts file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	return doc.Accounts, nil
}

func (f *FileStore) Save(accounts []*Account) error {
	doc := accountsFile{Accounts: accounts}
	var data []byte
	var err error
	if f.isJSON() {
		data, err = json5.MarshalIndent(doc, "", "  ")
	} else {
		data, err = yaml.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("marshal accounts file: %w", err)
	}
	if err := os.WriteFile(f.Path, data, 0o600); err != nil {
		return fmt.Errorf("write accounts file: %w", err)
	}
	return nil
}
