package relay

import "testing"

func TestDestinationString(t *testing.T) {
	tests := []struct {
		name string
		dest Destination
		want string
	}{
		{"plain host", Destination{Host: "10.0.0.1", Port: 2004, Instance: "a"}, "10_0_0_1:2004:a"},
		{"hostname with dots", Destination{Host: "relay.internal.example", Port: 2004, Instance: "b"}, "relay_internal_example:2004:b"},
		{"empty instance", Destination{Host: "10.0.0.1", Port: 2004}, "10_0_0_1:2004:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dest.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDestinationAddr(t *testing.T) {
	d := Destination{Host: "relay.internal.example", Port: 2004, Instance: "a"}
	if got, want := d.Addr(), "relay.internal.example:2004"; got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestParseDestination(t *testing.T) {
	tests := []struct {
		in      string
		want    Destination
		wantErr bool
	}{
		{"10.0.0.1:2004:a", Destination{Host: "10.0.0.1", Port: 2004, Instance: "a"}, false},
		{"10.0.0.1:2004", Destination{Host: "10.0.0.1", Port: 2004, Instance: ""}, false},
		{"10.0.0.1:2004:tag:with:colons", Destination{Host: "10.0.0.1", Port: 2004, Instance: "tag:with:colons"}, false},
		{":2004", Destination{}, true},
		{"10.0.0.1", Destination{}, true},
		{"10.0.0.1:notaport", Destination{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDestination(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDestination(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseDestination(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
