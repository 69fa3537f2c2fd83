package mysql

// Repository aggregates all MySQL repositories
type Repository struct {
	ds *Datastore

	TaskRun *TaskRunRepository
}

// NewRepository creates a new MySQL repository and migrates its tables
func NewRepository(dsn string) (*Repository, error) {
	ds, err := NewDatastore(dsn)
	if err != nil {
		return nil, err
	}
	if err := ds.Migrate(); err != nil {
		_ = ds.Close()
		return nil, err
	}

	return &Repository{
		ds:      ds,
		TaskRun: NewTaskRunRepository(ds),
	}, nil
}

// GetDatastore returns the underlying datastore
func (r *Repository) GetDatastore() *Datastore {
	return r.ds
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.ds.Close()
}
