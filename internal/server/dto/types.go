// Storage protocol requests and responses.

package dto

import "github.com/aaiyer/bugseverywhere-sub000/internal/storage"

// VersionHeader carries the storage format version on raw value responses.
const VersionHeader = "X-BE-Version"

// Validatable is implemented by every request.
type Validatable interface {
	Validate() error
}

// EmptyResponse is the body of mutations without a result.
type EmptyResponse struct{}

// IDRequest names an id at a revision.
type IDRequest struct {
	ID       string `json:"-" query:"id"`
	Revision string `json:"-" query:"revision"`
}

// Validate implements Validatable.
func (r *IDRequest) Validate() error {
	if r.ID == "" {
		return MissingField("id")
	}
	return nil
}

// ChildrenRequest lists the children of an id, the root when ID is empty.
type ChildrenRequest struct {
	ID       string `json:"-" query:"id"`
	Revision string `json:"-" query:"revision"`
}

// Validate implements Validatable.
func (r *ChildrenRequest) Validate() error {
	return nil
}

// GetRequest reads a value.
type GetRequest struct {
	ID       string `json:"-" path:"id"`
	Revision string `json:"-" query:"revision"`
}

// Validate implements Validatable.
func (r *GetRequest) Validate() error {
	if r.ID == "" {
		return MissingField("id")
	}
	return nil
}

// SetRequest writes a value. Value is base64 in JSON.
type SetRequest struct {
	ID    string `json:"-" path:"id"`
	Value []byte `json:"value"`
}

// Validate implements Validatable.
func (r *SetRequest) Validate() error {
	if r.ID == "" {
		return MissingField("id")
	}
	return nil
}

// AddRequest creates an entry.
type AddRequest struct {
	ID        string `json:"id"`
	Parent    string `json:"parent,omitempty"`
	Directory bool   `json:"directory,omitempty"`
}

// Validate implements Validatable.
func (r *AddRequest) Validate() error {
	if r.ID == "" {
		return MissingField("id")
	}
	return nil
}

// RemoveRequest deletes an entry.
type RemoveRequest struct {
	ID        string `json:"id"`
	Recursive bool   `json:"recursive,omitempty"`
}

// Validate implements Validatable.
func (r *RemoveRequest) Validate() error {
	if r.ID == "" {
		return MissingField("id")
	}
	return nil
}

// CommitRequest records a revision.
type CommitRequest struct {
	Summary    string `json:"summary"`
	Body       string `json:"body,omitempty"`
	AllowEmpty bool   `json:"allow_empty,omitempty"`
}

// Validate implements Validatable.
func (r *CommitRequest) Validate() error {
	if r.Summary == "" {
		return MissingField("summary")
	}
	return nil
}

// RevisionIDRequest maps an index to a revision.
type RevisionIDRequest struct {
	Index int `json:"-" query:"index"`
}

// Validate implements Validatable.
func (r *RevisionIDRequest) Validate() error {
	return nil
}

// RevisionRequest names a revision only.
type RevisionRequest struct {
	Revision string `json:"-" query:"revision"`
}

// Validate implements Validatable.
func (r *RevisionRequest) Validate() error {
	return nil
}

// ExistsResponse answers exists.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// IDsResponse answers ancestors and children.
type IDsResponse struct {
	IDs []string `json:"ids"`
}

// RevisionResponse answers commit and revision-id.
type RevisionResponse struct {
	Revision string `json:"revision"`
}

// ChangedResponse answers changed.
type ChangedResponse = storage.Changes

// VersionResponse answers version.
type VersionResponse struct {
	Version string `json:"version"`
	// Versioned reports whether the remote storage keeps history.
	Versioned bool `json:"versioned"`
	// Backend is the remote driver name.
	Backend string `json:"backend,omitempty"`
}

// TokenResponse answers token.
type TokenResponse struct {
	Token string `json:"token"`
}
