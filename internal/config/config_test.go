package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.OTP.TTL != 5*time.Minute || cfg.Attendance.LateAfter != 15*time.Minute {
		t.Fatalf("otp ttl %v, late after %v", cfg.OTP.TTL, cfg.Attendance.LateAfter)
	}
	if cfg.Attendance.WindowBefore != 30*time.Minute || cfg.Attendance.WindowAfter != time.Hour {
		t.Fatalf("window %v/%v", cfg.Attendance.WindowBefore, cfg.Attendance.WindowAfter)
	}
	if cfg.OTP.Echo {
		t.Fatal("echo must default to off")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OTP_TTL", "2m")
	t.Setenv("GEOFENCE_ASSISTED", "true")
	t.Setenv("OTP_ISSUE_PER_HOUR", "9")
	t.Setenv("LOGIN_OTP_ROLES", " admin , ,teacher")
	t.Setenv("LATE_AFTER", "soon")

	cfg := Load()
	if cfg.OTP.TTL != 2*time.Minute || !cfg.Attendance.GeofenceAssisted || cfg.OTP.IssuePerHour != 9 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.OTP.LoginRoles) != 2 || cfg.OTP.LoginRoles[0] != "admin" || cfg.OTP.LoginRoles[1] != "teacher" {
		t.Fatalf("roles = %q", cfg.OTP.LoginRoles)
	}
	if cfg.Attendance.LateAfter != 15*time.Minute {
		t.Fatalf("bad duration not ignored: %v", cfg.Attendance.LateAfter)
	}
}

func TestEchoDisabledInProduction(t *testing.T) {
	t.Setenv("OTP_ECHO", "true")
	if !Load().OTP.Echo {
		t.Fatal("echo should be honoured in dev")
	}
	t.Setenv("APP_ENV", "production")
	if Load().OTP.Echo {
		t.Fatal("echo must be forced off in production")
	}
}

func TestValidateRequiresSecretsInProduction(t *testing.T) {
	if err := Load().Validate(); err != nil {
		t.Fatalf("dev defaults rejected: %v", err)
	}

	t.Setenv("APP_ENV", "production")
	if err := Load().Validate(); err == nil {
		t.Fatal("default secrets accepted in production")
	}
	t.Setenv("JWT_SIGNING_KEY", "prod-jwt-key")
	if err := Load().Validate(); err == nil {
		t.Fatal("default OTP secret accepted in production")
	}
	t.Setenv("OTP_SECRET", "prod-otp-secret")
	if err := Load().Validate(); err != nil {
		t.Fatalf("explicit secrets rejected: %v", err)
	}
}

func TestLocation(t *testing.T) {
	if loc := (App{Timezone: "Asia/Bangkok"}).Location(); loc.String() != "Asia/Bangkok" {
		t.Fatalf("loc = %v", loc)
	}
	if loc := (App{Timezone: "Mars/Olympus"}).Location(); loc != time.UTC {
		t.Fatalf("loc = %v", loc)
	}
}
