package repository

// Scanner covers both pgx.Row and pgx.Rows so scan helpers work for either.
type Scanner interface {
	Scan(dest ...interface{}) error
}
