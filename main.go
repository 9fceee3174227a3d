package main

import (
	"context"
	"fmt"
	"os"

	"github.com/docopt/docopt-go"
	log "github.com/sirupsen/logrus"

	"github.com/ipasign/ipasign/pkg/config"
	"github.com/ipasign/ipasign/pkg/identity"
	"github.com/ipasign/ipasign/pkg/provisioning"
	"github.com/ipasign/ipasign/pkg/resign"
)

const version = "1.0.0"

const usage = `ipasign - iOS IPA resigning tool

A command-line tool for resigning IPA files with a new signing identity
and provisioning profile, delegating signature production to an
external codesign-compatible tool.

Usage:
  ipasign resign --file=<path> [--identity=<name>] [--profile=<path>] [--output=<path>] [--keychain=<name>] [--entitlement=<path>] [--bundleid=<id>] [--p12=<path>] [--password=<pw>] [--config=<path>] [--force-family] [--without-watchapp] [--unfair-play] [--parallel] [--verify-twice] [--ignore-codesign-errors] [--ignore-verification-errors] [--replace] [--use-default-entitlements] [--tool=<name>]
  ipasign info --profile=<path>
  ipasign -h | --help
  ipasign --version

Commands:
  resign    Resign an IPA file
  info      Display information about a provisioning profile

Options:
  --file=<path>                 Path to the input .ipa file
  --identity=<name>              Signing identity passed to the external tool
  --profile=<path>               Path to the .mobileprovision file to embed
  --output=<path>                Output path (defaults to "<file without extension>-resigned.ipa")
  --keychain=<name>               Keychain reference for signer/verifier
  --entitlement=<path>            Override entitlements file
  --bundleid=<id>                 New CFBundleIdentifier
  --p12=<path>                    PKCS#12 file, used only to derive --identity if omitted
  --password=<pw>                 Password for --p12
  --config=<path>                  YAML file supplying defaults for --identity/--keychain/--profile/--tool
  --force-family                  Rewrite iPad-only device family metadata to iPhone
  --without-watchapp               Strip Watch/ and PlugIns/ before signing
  --unfair-play                    Allow signing a FairPlay-encrypted binary
  --parallel                      Sign independent binaries within a layer concurrently
  --verify-twice                   Verify each binary immediately after signing it
  --ignore-codesign-errors         Downgrade signer failures to warnings
  --ignore-verification-errors     Downgrade verifier failures to warnings
  --replace                       Overwrite the input archive with the output on success
  --use-default-entitlements       Build entitlements from the profile's template instead of merging
  --tool=<name>                    codesign-compatible binary to invoke (codesign when unset)
  -h --help                       Show this help message
  --version                       Show version

Examples:
  ipasign resign --file=MyApp.ipa --identity="Apple Distribution: Example Inc" --profile=dist.mobileprovision

  ipasign resign --file=MyApp.ipa --p12=cert.p12 --password=secret --profile=dist.mobileprovision --bundleid=com.example.newapp --parallel

  ipasign info --profile=dist.mobileprovision
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	var runErr error
	if ok, _ := opts.Bool("resign"); ok {
		runErr = runResign(opts)
	} else if ok, _ := opts.Bool("info"); ok {
		runErr = runInfo(opts)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		if resignErr, ok := runErr.(*resign.Error); ok {
			os.Exit(exitCodeFor(resignErr.Kind))
		}
		os.Exit(1)
	}
}

func exitCodeFor(kind resign.ErrorKind) int {
	switch kind {
	case resign.IdentityNotFound:
		return 3
	case resign.Encrypted:
		return 4
	default:
		return 2
	}
}

func runResign(opts docopt.Opts) error {
	file, _ := opts.String("--file")
	sigIdentity, _ := opts.String("--identity")
	profilePath, _ := opts.String("--profile")
	output, _ := opts.String("--output")
	keychain, _ := opts.String("--keychain")
	entitlementPath, _ := opts.String("--entitlement")
	bundleID, _ := opts.String("--bundleid")
	p12Path, _ := opts.String("--p12")
	password, _ := opts.String("--password")
	tool, _ := opts.String("--tool")
	configPath, _ := opts.String("--config")

	fileDefaults, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cliOverrides := config.Defaults{Identity: sigIdentity, Keychain: keychain, ProfilePath: profilePath, SignerTool: tool}
	merged := fileDefaults.Merge(cliOverrides)
	sigIdentity, keychain, profilePath, tool = merged.Identity, merged.Keychain, merged.ProfilePath, merged.SignerTool

	forceFamily, _ := opts.Bool("--force-family")
	withoutWatchapp, _ := opts.Bool("--without-watchapp")
	unfairPlay, _ := opts.Bool("--unfair-play")
	parallel, _ := opts.Bool("--parallel")
	verifyTwice, _ := opts.Bool("--verify-twice")
	ignoreCodesignErrors, _ := opts.Bool("--ignore-codesign-errors")
	ignoreVerificationErrors, _ := opts.Bool("--ignore-verification-errors")
	replace, _ := opts.Bool("--replace")
	useDefaultEntitlements, _ := opts.Bool("--use-default-entitlements")

	if sigIdentity == "" && p12Path != "" {
		p12Data, err := os.ReadFile(p12Path)
		if err != nil {
			return fmt.Errorf("read p12: %w", err)
		}
		info, err := identity.Resolve(p12Data, password)
		if err != nil {
			return fmt.Errorf("resolve identity from p12: %w", err)
		}
		sigIdentity = info.CommonName
		log.WithFields(log.Fields{"identity": sigIdentity, "teamID": info.TeamID}).Info("resolved signing identity from p12")
	}

	if sigIdentity == "" {
		return fmt.Errorf("--identity or --p12 is required")
	}

	session := resign.New(resign.Config{
		SourcePath:               file,
		OutputPath:               output,
		Identity:                 sigIdentity,
		Keychain:                 keychain,
		ProfilePath:              profilePath,
		EntitlementPath:          entitlementPath,
		NewBundleID:              bundleID,
		VerifyTwice:              verifyTwice,
		IgnoreCodesignErrors:     ignoreCodesignErrors,
		IgnoreVerificationErrors: ignoreVerificationErrors,
		WithoutWatchapp:          withoutWatchapp,
		ForceFamily:              forceFamily,
		UnfairPlay:               unfairPlay,
		ReplaceIPA:               replace,
		Parallel:                 parallel,
		UseDefaultEntitlements:   useDefaultEntitlements,
		SignerTool:               tool,
	})

	go func() {
		for ev := range session.Events() {
			switch ev.Kind {
			case resign.Warning:
				fmt.Fprintf(os.Stderr, "warning: %s\n", ev.Message)
			case resign.End:
				if ev.Err != nil {
					return
				}
				fmt.Println("done")
			}
		}
	}()

	result := session.Run(context.Background())
	if result.Err != nil {
		return result.Err
	}
	return nil
}

func runInfo(opts docopt.Opts) error {
	profilePath, _ := opts.String("--profile")
	if profilePath == "" {
		return fmt.Errorf("--profile is required")
	}
	return showProfileInfo(profilePath)
}

func showProfileInfo(profilePath string) error {
	data, err := os.ReadFile(profilePath)
	if err != nil {
		return fmt.Errorf("read profile: %w", err)
	}

	profile, err := provisioning.Parse(data)
	if err != nil {
		return fmt.Errorf("parse profile: %w", err)
	}

	fmt.Println("Provisioning Profile Information")
	fmt.Println("================================")
	fmt.Printf("File:        %s\n", profilePath)
	fmt.Printf("Name:        %s\n", profile.Name)
	fmt.Printf("Team ID:     %s\n", profile.TeamID())
	fmt.Printf("App ID:      %s\n", profile.ApplicationIdentifier())
	fmt.Printf("UUID:        %s\n", profile.UUID)
	fmt.Printf("Expiration:  %s\n", profile.ExpirationDate.Format("2006-01-02 15:04:05"))
	fmt.Printf("Expired:     %v\n", profile.IsExpired())

	if certs, err := profile.Certificates(); err == nil {
		fmt.Printf("Certificates: %d\n", len(certs))
		for i, cert := range certs {
			fmt.Printf("  [%d] %s\n", i+1, cert.Subject.CommonName)
		}
	}

	if len(profile.ProvisionedDevices) > 0 {
		fmt.Printf("Devices:     %d\n", len(profile.ProvisionedDevices))
	}

	return nil
}
