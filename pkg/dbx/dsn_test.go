package dbx

import "testing"

func TestWithDefaultSSLMode(t *testing.T) {
	cases := []struct {
		name string
		dsn  string
		want string
	}{
		{
			name: "url without params gains require",
			dsn:  "postgres://app:pw@db.internal:5432/app",
			want: "postgres://app:pw@db.internal:5432/app?sslmode=require",
		},
		{
			name: "url with params gains require",
			dsn:  "postgres://app:pw@db.internal:5432/app?connect_timeout=5",
			want: "postgres://app:pw@db.internal:5432/app?connect_timeout=5&sslmode=require",
		},
		{
			name: "explicit disable is left alone",
			dsn:  "postgres://app:pw@localhost:5432/app?sslmode=disable",
			want: "postgres://app:pw@localhost:5432/app?sslmode=disable",
		},
		{
			name: "explicit verify-full is left alone",
			dsn:  "postgres://app:pw@db.internal:5432/app?sslmode=verify-full",
			want: "postgres://app:pw@db.internal:5432/app?sslmode=verify-full",
		},
		{
			name: "key value form gains require",
			dsn:  "host=db.internal user=app dbname=app",
			want: "host=db.internal user=app dbname=app sslmode=require",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := withDefaultSSLMode(tc.dsn); got != tc.want {
				t.Fatalf("withDefaultSSLMode(%q) = %q, want %q", tc.dsn, got, tc.want)
			}
		})
	}
}
