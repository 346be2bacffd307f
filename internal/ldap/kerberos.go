package ldap

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// kerberosBind performs a GSSAPI bind on c.
func kerberosBind(ctx context.Context, c conn, config *ConnectionConfig, creds Credentials) error {
	creds, err := prepareKerberosCredentials(config.KerberosRealm, creds)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	client, err := newGSSAPIClient(ctx, config, creds)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = client.DeleteSecContext()
	}()

	spn, err := servicePrincipal(config)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	if err := c.GSSAPIBind(client, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	return nil
}

// newGSSAPIClient creates a GSSAPI client.
// Priority order: credential cache, keytab, password.
func newGSSAPIClient(ctx context.Context, cfg *ConnectionConfig, creds Credentials) (*gssapi.Client, error) {
	krb5conf := cfg.KerberosConfig
	if krb5conf == "" {
		krb5conf = defaultKrb5Conf
	}

	if !fileExists(krb5conf) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s", krb5conf)
	}

	ccache := cfg.KerberosCCache
	if ccache == "" {
		ccache = defaultCCachePath()
	}
	if fileExists(ccache) {
		tflog.SubsystemDebug(ctx, Subsystem, "Using Kerberos credential cache", map[string]any{"ccache": ccache})
		return gssapi.NewClientFromCCache(ccache, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	keytab := cfg.KerberosKeytab
	if keytab == "" {
		keytab = defaultKeytabPath()
	}
	if creds.Username != "" && fileExists(keytab) {
		tflog.SubsystemDebug(ctx, Subsystem, "Using Kerberos keytab", map[string]any{"keytab": keytab})
		return gssapi.NewClientWithKeytab(creds.Username, cfg.KerberosRealm, keytab, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if creds.Username != "" && creds.Password != "" {
		return gssapi.NewClientWithPassword(creds.Username, cfg.KerberosRealm, creds.Password, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
}

// servicePrincipal returns the LDAP service principal for the configured server.
func servicePrincipal(cfg *ConnectionConfig) (string, error) {
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid LDAP URL: %w", err)
	}

	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("no hostname found in URL: %s", cfg.URL)
	}

	return "ldap/" + host, nil
}

// prepareKerberosCredentials strips an @REALM suffix matching the configured
// realm from the principal name.
func prepareKerberosCredentials(realm string, creds Credentials) (Credentials, error) {
	if realm == "" {
		return creds, fmt.Errorf("kerberos realm is required")
	}

	if user, principalRealm, ok := strings.Cut(creds.Username, "@"); ok {
		if !strings.EqualFold(principalRealm, realm) {
			return creds, fmt.Errorf("principal realm %q does not match configured realm %q", principalRealm, realm)
		}
		creds.Username = user
	}

	return creds, nil
}

func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

func defaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

var _ ldap.GSSAPIClient = (*gssapi.Client)(nil)
