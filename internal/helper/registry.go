package helper

import (
	"os"
	"path/filepath"
)

// ServiceRegistry is the "well-known registry directory" spec.md §4.1
// item 4 describes: systemctl on a non-system service is rejected unless
// that name appears here as a regular, non-symlink file a prior
// register_service call wrote.
type ServiceRegistry struct {
	dir string
}

// NewServiceRegistry builds a ServiceRegistry rooted at dir, creating it
// if necessary.
func NewServiceRegistry(dir string) (*ServiceRegistry, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &ServiceRegistry{dir: dir}, nil
}

// Register marks service as registered by writing a regular, empty file
// named after it.
func (r *ServiceRegistry) Register(service string) error {
	path := filepath.Join(r.dir, service)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	return f.Close()
}

// Unregister removes service's registration marker, if any.
func (r *ServiceRegistry) Unregister(service string) error {
	err := os.Remove(filepath.Join(r.dir, service))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsRegistered reports whether service has a valid registration marker:
// present, a regular file, and not a symlink.
func (r *ServiceRegistry) IsRegistered(service string) bool {
	info, err := os.Lstat(filepath.Join(r.dir, service))
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
