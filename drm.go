package bookstream

import (
	"encoding/xml"
	"strings"
)

const (
	encryptionFilePath = "META-INF/encryption.xml"
	// sinfFilePath indicates Apple FairPlay.
	sinfFilePath = "META-INF/sinf.xml"
)

// Font obfuscation algorithm URIs; these do NOT constitute DRM.
var fontObfuscationAlgorithms = map[string]bool{
	"http://www.idpf.org/2008/embedding": true, // IDPF
	"http://ns.adobe.com/pdf/enc#RC":     true, // Adobe
}

// Known DRM namespaces found in algorithm URIs or KeyInfo content.
var drmSignatures = map[string]string{
	"http://ns.adobe.com/adept":      "Adobe ADEPT",
	"http://readium.org/2014/01/lcp": "Readium LCP",
}

type xmlEncryption struct {
	XMLName       xml.Name `xml:"encryption"`
	EncryptedData []struct {
		Method struct {
			Algorithm string `xml:"Algorithm,attr"`
		} `xml:"EncryptionMethod"`
		KeyInfo struct {
			InnerXML string `xml:",innerxml"`
		} `xml:"KeyInfo"`
	} `xml:"EncryptedData"`
}

// checkDRM inspects META-INF/sinf.xml and META-INF/encryption.xml. It reports
// whether only font obfuscation was found, or returns a DRMProtected
// ContainerError naming the scheme when real encryption is present.
func checkDRM(ix *Index) (fontObfuscation bool, err error) {
	if _, ok := ix.Lookup(sinfFilePath); ok {
		return false, newContainerError(DRMProtected, "Apple FairPlay (%s present)", sinfFilePath)
	}
	if _, ok := ix.Lookup(encryptionFilePath); !ok {
		return false, nil
	}

	data, err := ix.ReadFile(encryptionFilePath)
	if err != nil {
		return false, &ContainerError{Kind: DRMProtected, Reason: "unreadable encryption.xml", Err: err}
	}

	var enc xmlEncryption
	if err := xml.Unmarshal(data, &enc); err != nil {
		return false, &ContainerError{Kind: DRMProtected, Reason: "malformed encryption.xml", Err: err}
	}

	for _, ed := range enc.EncryptedData {
		algo := ed.Method.Algorithm
		if fontObfuscationAlgorithms[algo] {
			fontObfuscation = true
			continue
		}
		if scheme := drmScheme(algo + ed.KeyInfo.InnerXML); scheme != "" {
			return false, newContainerError(DRMProtected, "%s encryption", scheme)
		}
		return false, newContainerError(DRMProtected, "encrypted content (%s)", algo)
	}
	return fontObfuscation, nil
}

// drmScheme returns the name of the first known DRM namespace found in s.
func drmScheme(s string) string {
	for sig, name := range drmSignatures {
		if strings.Contains(s, sig) {
			return name
		}
	}
	return ""
}
