package smb2core

import (
	"sync"

	"github.com/absfs/absfs"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// openFile is a handle issued by MockServer for a successful CREATE.
type openFile struct {
	id            FileID
	file          absfs.File
	path          string
	isDir         bool
	access        uint32
	shareAccess   uint32
	deleteOnClose bool
}

// fileHandleMap tracks the handles a MockServer has issued.
type fileHandleMap struct {
	mu      sync.RWMutex
	handles map[FileID]*openFile
	byPath  map[string][]*openFile // for sharing checks
}

func newFileHandleMap() *fileHandleMap {
	return &fileHandleMap{
		handles: make(map[FileID]*openFile),
		byPath:  make(map[string][]*openFile),
	}
}

// allocate registers file under a fresh random FileID.
func (m *fileHandleMap) allocate(file absfs.File, path string, isDir bool, access, shareAccess uint32, deleteOnClose bool) *openFile {
	m.mu.Lock()
	defer m.mu.Unlock()

	of := &openFile{
		id:            FileID(uuid.New()),
		file:          file,
		path:          path,
		isDir:         isDir,
		access:        access,
		shareAccess:   shareAccess,
		deleteOnClose: deleteOnClose,
	}
	m.handles[of.id] = of
	m.byPath[path] = append(m.byPath[path], of)
	return of
}

func (m *fileHandleMap) get(id FileID) *openFile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handles[id]
}

// release forgets the handle and closes its file. Unknown ids are ignored.
func (m *fileHandleMap) release(id FileID) error {
	m.mu.Lock()
	of := m.handles[id]
	if of == nil {
		m.mu.Unlock()
		return nil
	}
	delete(m.handles, id)

	handles := m.byPath[of.path]
	for i, h := range handles {
		if h.id == id {
			m.byPath[of.path] = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(m.byPath[of.path]) == 0 {
		delete(m.byPath, of.path)
	}
	m.mu.Unlock()

	if of.file != nil {
		return of.file.Close()
	}
	return nil
}

// releaseAll closes every handle and combines the close errors.
func (m *fileHandleMap) releaseAll() error {
	m.mu.RLock()
	ids := make([]FileID, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var err error
	for _, id := range ids {
		err = multierr.Append(err, m.release(id))
	}
	return err
}

func (m *fileHandleMap) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

// checkShareAccess reports whether a new open of path with the given access
// and share mode is compatible with every existing open of it.
func (m *fileHandleMap) checkShareAccess(path string, desiredAccess, shareAccess uint32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, of := range m.byPath[path] {
		if !checkShareCompatibility(desiredAccess, shareAccess, of.access, of.shareAccess) {
			return false
		}
	}
	return true
}

func checkShareCompatibility(newAccess, newShare, existingAccess, existingShare uint32) bool {
	newAccess = mapGenericAccess(newAccess)
	existingAccess = mapGenericAccess(existingAccess)

	// New access must be allowed by the existing share mode
	if newAccess&FILE_READ_DATA != 0 && existingShare&FILE_SHARE_READ == 0 {
		return false
	}
	if newAccess&FILE_WRITE_DATA != 0 && existingShare&FILE_SHARE_WRITE == 0 {
		return false
	}
	if newAccess&DELETE != 0 && existingShare&FILE_SHARE_DELETE == 0 {
		return false
	}

	// and the other way round
	if existingAccess&FILE_READ_DATA != 0 && newShare&FILE_SHARE_READ == 0 {
		return false
	}
	if existingAccess&FILE_WRITE_DATA != 0 && newShare&FILE_SHARE_WRITE == 0 {
		return false
	}
	if existingAccess&DELETE != 0 && newShare&FILE_SHARE_DELETE == 0 {
		return false
	}
	return true
}

// mapGenericAccess expands GENERIC_* bits into the specific rights they
// imply.
func mapGenericAccess(access uint32) uint32 {
	result := access
	if access&GENERIC_ALL != 0 {
		result |= FILE_READ_DATA | FILE_WRITE_DATA | FILE_APPEND_DATA | DELETE
	}
	if access&GENERIC_READ != 0 {
		result |= FILE_READ_DATA | FILE_READ_ATTRIBUTES
	}
	if access&GENERIC_WRITE != 0 {
		result |= FILE_WRITE_DATA | FILE_APPEND_DATA | FILE_WRITE_ATTRIBUTES
	}
	if access&MAXIMUM_ALLOWED != 0 {
		result |= FILE_READ_DATA | FILE_WRITE_DATA | FILE_APPEND_DATA
	}
	return result
}
