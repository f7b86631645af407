package sparql

import (
	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/store"
)

// Source locates one logical store: remote endpoints, local RDF files, or
// both.
type Source struct {
	Name      string
	URLs      []string
	FilePaths []string
}

// Opened is a client over a Source. Local is set when files were loaded,
// so a store.Watcher can refresh them.
type Opened struct {
	Client Client
	Local  *LocalClient
}

// Open builds the client for src. Files are loaded eagerly.
func Open(src Source, opts ...HTTPOption) (*Opened, error) {
	var clients []Client
	opened := &Opened{}

	for _, endpoint := range src.URLs {
		c, err := NewHTTPClient(endpoint, opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "%s store", src.Name)
		}
		clients = append(clients, c)
	}

	if len(src.FilePaths) > 0 {
		qs, err := store.NewLoader().LoadFiles(src.FilePaths)
		if err != nil {
			return nil, errors.Wrapf(err, "%s store", src.Name)
		}
		opened.Local = NewLocalClient(qs)
		clients = append(clients, opened.Local)
	}

	client, err := NewMultiClient(clients...)
	if err != nil {
		return nil, errors.WithHint(errors.Wrapf(err, "%s store", src.Name),
			"set triplestore_urls or file_paths")
	}
	opened.Client = client
	return opened, nil
}
